package types

// Version is the canonical project version.
// The CLI, the wire protocol and the stored record layout share this version.
const Version = "0.3.0"

// ProtocolVersion is advertised in Hello and discovery TXT records.
// Peers with a different protocol version are rejected at handshake.
const ProtocolVersion = 1
