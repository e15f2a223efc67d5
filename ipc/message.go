package ipc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/KendoTarakate/skin/types"
)

// messageTypeProbe is used to peek at the type field without full decode.
type messageTypeProbe struct {
	Type string `msgpack:"type"`
}

// EncodeMessage encodes msg as msgpack with its type discriminant set.
// msg itself is not modified, so one message may be encoded concurrently
// for several connections.
// Returns *FrameError with Kind=FrameErrorTooLarge if the encoding exceeds MaxMessageSize.
func EncodeMessage(msg types.Message) ([]byte, error) {
	var v any
	switch m := msg.(type) {
	case *types.Hello:
		c := *m
		c.Type = types.MessageTypeHello
		v = &c
	case *types.TransferStart:
		c := *m
		c.Type = types.MessageTypeTransferStart
		v = &c
	case *types.TransferChunk:
		c := *m
		c.Type = types.MessageTypeTransferChunk
		v = &c
	case *types.TransferEnd:
		c := *m
		c.Type = types.MessageTypeTransferEnd
		v = &c
	case *types.ResetOwner:
		c := *m
		c.Type = types.MessageTypeResetOwner
		v = &c
	default:
		return nil, fmt.Errorf("unsupported message %T", msg)
	}

	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	if len(payload) > MaxMessageSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("%s message size %d exceeds maximum %d", msg.MessageType(), len(payload), MaxMessageSize),
		}
	}
	return payload, nil
}

// DecodeMessage decodes a payload into its concrete message type.
// Discriminates based on the type field.
func DecodeMessage(payload []byte) (types.Message, error) {
	if len(payload) > MaxMessageSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxMessageSize),
		}
	}

	var probe messageTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode message type",
			Err:  err,
		}
	}

	var msg types.Message
	switch probe.Type {
	case types.MessageTypeHello:
		msg = &types.Hello{}
	case types.MessageTypeTransferStart:
		msg = &types.TransferStart{}
	case types.MessageTypeTransferChunk:
		msg = &types.TransferChunk{}
	case types.MessageTypeTransferEnd:
		msg = &types.TransferEnd{}
	case types.MessageTypeResetOwner:
		msg = &types.ResetOwner{}
	default:
		return nil, &FrameError{
			Kind: FrameErrorUnknownType,
			Msg:  fmt.Sprintf("unknown message type %q", probe.Type),
		}
	}

	if err := msgpack.Unmarshal(payload, msg); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode " + probe.Type,
			Err:  err,
		}
	}
	return msg, nil
}
