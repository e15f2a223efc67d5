//nolint:revive // types is a common Go package naming convention
package types

// Message type discriminants. Every wire message carries one of these
// in its "type" field.
const (
	MessageTypeHello         = "hello"
	MessageTypeTransferStart = "transfer_start"
	MessageTypeTransferChunk = "transfer_chunk"
	MessageTypeTransferEnd   = "transfer_end"
	MessageTypeResetOwner    = "reset_owner"
)

// Message is implemented by every wire message.
type Message interface {
	MessageType() string
}

// Hello is the first message on every connection.
// It binds the connection to a participant identity; the server uses it as
// the implicit owner of everything the connection sends afterwards.
type Hello struct {
	// Type is always "hello".
	Type string `msgpack:"type"`
	// Participant is the participant UUID in canonical text form.
	Participant string `msgpack:"participant"`
	// Name is a display name, informational only.
	Name string `msgpack:"name,omitempty"`
	// Protocol is the sender's ProtocolVersion.
	Protocol int `msgpack:"protocol"`
}

// TransferStart opens a transfer.
// Owner is empty on client-to-server messages and set on server-to-client messages.
type TransferStart struct {
	// Type is always "transfer_start".
	Type string `msgpack:"type"`
	// Owner is the originating participant UUID, omitted when implicit.
	Owner string `msgpack:"owner,omitempty"`
	// Slim selects the slim (3px arm) model variant.
	Slim bool `msgpack:"slim"`
	// TotalChunks is the number of chunks that follow.
	TotalChunks int32 `msgpack:"total_chunks"`
	// TotalBytes is the size of the reassembled payload.
	TotalBytes int32 `msgpack:"total_bytes"`
}

// TransferChunk carries one contiguous slice of the payload.
type TransferChunk struct {
	// Type is always "transfer_chunk".
	Type string `msgpack:"type"`
	// Owner is the originating participant UUID, omitted when implicit.
	Owner string `msgpack:"owner,omitempty"`
	// Index is the zero-based chunk position.
	Index int32 `msgpack:"index"`
	// Size is len(Data), carried for validation.
	Size int32 `msgpack:"size"`
	// Data is the raw chunk bytes.
	Data []byte `msgpack:"data"`
}

// TransferEnd closes a transfer.
type TransferEnd struct {
	// Type is always "transfer_end".
	Type string `msgpack:"type"`
	// Owner is the originating participant UUID, omitted when implicit.
	Owner string `msgpack:"owner,omitempty"`
}

// ResetOwner tells the receiver to drop the owner's custom texture.
// Client-to-server resets omit Owner; the connection identity is used.
type ResetOwner struct {
	// Type is always "reset_owner".
	Type string `msgpack:"type"`
	// Owner is the participant whose texture is reset.
	Owner string `msgpack:"owner,omitempty"`
}

// MessageType implements Message.
func (*Hello) MessageType() string { return MessageTypeHello }

// MessageType implements Message.
func (*TransferStart) MessageType() string { return MessageTypeTransferStart }

// MessageType implements Message.
func (*TransferChunk) MessageType() string { return MessageTypeTransferChunk }

// MessageType implements Message.
func (*TransferEnd) MessageType() string { return MessageTypeTransferEnd }

// MessageType implements Message.
func (*ResetOwner) MessageType() string { return MessageTypeResetOwner }
