package protocol

import (
	"fmt"

	cborlib "github.com/fxamacker/cbor/v2"
)

// BinaryFrame carries one opaque chunk of a logical binary transfer. Frames
// sharing a ContentId belong to the same transfer; Seq is monotonic per
// ContentId starting at 0. The relay does no reassembly.
type BinaryFrame struct {
	ContentId string `cbor:"content_id"`
	Seq       int64  `cbor:"seq"`
	Payload   []byte `cbor:"payload"`
}

func (f *BinaryFrame) Marshal() ([]byte, error) {
	raw, err := cborlib.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode binary frame: %w", err)
	}
	return raw, nil
}

func UnmarshalBinaryFrame(raw []byte) (*BinaryFrame, error) {
	var f BinaryFrame
	if err := cborlib.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode binary frame: %w", err)
	}
	return &f, nil
}
