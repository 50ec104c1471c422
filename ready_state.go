package wsbridge

// ReadyState mirrors the browser WebSocket readyState attribute. Values are part of the event
// payload, so they must not be renumbered.
type ReadyState int

const (
	Connecting ReadyState = 0
	Open       ReadyState = 1
	Closing    ReadyState = 2
	Closed     ReadyState = 3
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

func (s ReadyState) IsTerminal() bool {
	return s == Closed
}

// BinaryType selects how binary frames are encoded before reaching the sink.
type BinaryType string

const (
	BinaryTypeText        BinaryType = "text"
	BinaryTypeArrayBuffer BinaryType = "arraybuffer"
)

// ParseBinaryType maps anything but "arraybuffer" to BinaryTypeText.
func ParseBinaryType(s string) BinaryType {
	if BinaryType(s) == BinaryTypeArrayBuffer {
		return BinaryTypeArrayBuffer
	}
	return BinaryTypeText
}
