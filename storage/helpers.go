package storage

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode = func() cbor.EncMode {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	em, err := encOpts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Artifact encoding/decoding
func encodeArtifact(a any) ([]byte, error) {
	data, err := encMode.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return data, nil
}

func decodeArtifact(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}
