package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexBytes is a []byte which encodes as hexadecimal in json, as opposed to the
// base64 default. The encoded form carries the 0x prefix; decoding accepts it
// with or without.
type HexBytes []byte

// String returns the 0x prefixed hexadecimal representation.
func (b HexBytes) String() string {
	return "0x" + hex.EncodeToString(b)
}

// MarshalText implements encoding.TextMarshaler.
func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *HexBytes) UnmarshalText(data []byte) error {
	s := strings.TrimPrefix(strings.TrimPrefix(string(data), "0x"), "0X")
	if len(s)%2 != 0 {
		return fmt.Errorf("invalid hex length %d", len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex bytes: %w", err)
	}
	*b = decoded
	return nil
}
