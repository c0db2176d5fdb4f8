package bridge

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Marshal encodes v with the bridge's deterministic encoding. It is used
// for transport-level values such as the connection handshake.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data with the bridge's strict decoding limits.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// FrameReader splits a byte stream into top-level CBOR items. CBOR is
// self-delimiting, so one item is one frame. An item that is not
// well-formed leaves the stream unrecoverable and is returned as an error.
type FrameReader struct {
	dec *cbor.Decoder
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{dec: decMode.NewDecoder(r)}
}

// Next returns the raw bytes of the next item.
func (f *FrameReader) Next() ([]byte, error) {
	var raw cbor.RawMessage
	if err := f.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
