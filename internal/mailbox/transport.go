package mailbox

import (
	"bytes"
	"context"
)

// Transport moves a message one hop and returns what arrived on the far side.
type Transport interface {
	Carry(ctx context.Context, msg Message) (Message, error)
}

// DirectTransport hands the message over in memory.
type DirectTransport struct{}

// Carry returns msg unchanged.
func (DirectTransport) Carry(ctx context.Context, msg Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// WireTransport round-trips each message through the frame codec, so that
// delivery sees exactly the bytes a remote peer would.
type WireTransport struct{}

// Carry encodes msg as a frame and decodes it again.
func (WireTransport) Carry(ctx context.Context, msg Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, msg); err != nil {
		return Message{}, err
	}
	var out Message
	if err := ReadFrame(&buf, &out); err != nil {
		return Message{}, err
	}
	return out, nil
}
