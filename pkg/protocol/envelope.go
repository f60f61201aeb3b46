package protocol

import (
	"encoding/json"
	"fmt"
)

// Opcode enumerates the text commands exchanged between the kernel and
// front-end sessions.
type Opcode int

const (
	GetBasePathListRequest      Opcode = 100
	GetBasePathListResponse     Opcode = 101
	GetChildrenPathListRequest  Opcode = 102
	GetChildrenPathListResponse Opcode = 103
	TransferData                Opcode = 104
	RequestTransferFile         Opcode = 105
)

// Diagnostic suffixes appended to relayed text that could not be handled.
// Kept distinct so receivers can tell a bad envelope from an unknown command.
const (
	SuffixUnhandled = " #unhandled"
	SuffixMalformed = " #malformed"
)

// Envelope is the JSON wire structure for a correlated text command or reply.
// Uuid is the correlation token; it is live from the moment a pending
// completion is registered until the matching reply arrives or times out.
type Envelope struct {
	Uuid        string `json:"uuid"`
	Code        Opcode `json:"code"`
	Content     string `json:"content"`
	ContentType int    `json:"content_type"`
}

func (e *Envelope) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(raw), nil
}

func DecodeEnvelope(raw string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}
