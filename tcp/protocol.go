package tcp

// Protocol selects the wire framing of a connection manager. It must be
// chosen before Listen; the zero value is the length-prefixed default.
type Protocol int

const (
	// ProtocolDefault frames the stream into length-prefixed binary messages:
	// a 2-byte big-endian payload length followed by the payload.
	ProtocolDefault Protocol = iota

	// ProtocolCustom performs no implicit framing; the owning service drives
	// reads explicitly with byte counts or delimiters via Manager.Read.
	ProtocolCustom

	// ProtocolWebSocket speaks WebSocket: handshake on connect, then one
	// message per frame.
	ProtocolWebSocket
)

func (p Protocol) String() string {
	switch p {
	case ProtocolDefault:
		return "default"
	case ProtocolCustom:
		return "custom"
	case ProtocolWebSocket:
		return "websocket"
	default:
		return "invalid"
	}
}
