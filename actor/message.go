package actor

// MsgType tags the payload interpretation of a message.
type MsgType uint8

const (
	TypeUnknown MsgType = iota

	// TypeSystem carries runtime notifications: service exit broadcasts,
	// connection close reports
	TypeSystem

	// TypeText carries plain text, such as connection-id replies
	TypeText

	// TypeSocket carries one framed payload from a length-prefixed or
	// delimited connection
	TypeSocket

	// TypeSocketWS carries one WebSocket frame
	TypeSocketWS

	// TypeError marks infrastructure-synthesized error replies
	TypeError
)

// String returns the type tag name for logs.
func (t MsgType) String() string {
	switch t {
	case TypeSystem:
		return "system"
	case TypeText:
		return "text"
	case TypeSocket:
		return "socket"
	case TypeSocketWS:
		return "socket_ws"
	case TypeError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is the envelope exchanged between services. A message is treated as
// immutable once sent: senders hand over ownership of the payload and must
// not touch it afterwards.
//
// ResponseID carries the request/response discipline: positive on a request
// that expects a reply, negated on the reply, zero for fire-and-forget. The
// sign is the only in-band signal distinguishing request from reply, so every
// reply path - including infrastructure-synthesized errors - preserves it.
type Message struct {
	Sender     ID
	Receiver   ID
	ResponseID int32
	Type       MsgType
	Header     string
	Payload    []byte

	// Broadcast makes Receiver irrelevant: the message is delivered to every
	// service in a worker except the sender
	Broadcast bool
}

// Text returns the payload as a string.
func (m *Message) Text() string {
	return string(m.Payload)
}

// IsRequest reports whether the message expects a reply.
func (m *Message) IsRequest() bool {
	return m.ResponseID > 0
}

// IsResponse reports whether the message is a reply to an earlier request.
func (m *Message) IsResponse() bool {
	return m.ResponseID < 0
}
