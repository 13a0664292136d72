package types

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestHexBytesJSON(t *testing.T) {
	c := qt.New(t)

	data, err := json.Marshal(struct {
		Code HexBytes `json:"code"`
	}{Code: HexBytes{0x60, 0x80}})
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `{"code":"0x6080"}`)

	var out struct {
		Code HexBytes `json:"code"`
	}
	c.Assert(json.Unmarshal([]byte(`{"code":"6080"}`), &out), qt.IsNil)
	c.Assert([]byte(out.Code), qt.DeepEquals, []byte{0x60, 0x80})

	c.Assert(json.Unmarshal([]byte(`{"code":"0x608"}`), &out), qt.IsNotNil)
	c.Assert(json.Unmarshal([]byte(`{"code":"0xzz"}`), &out), qt.IsNotNil)
}
