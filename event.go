package wsbridge

import (
	"encoding/base64"
	"fmt"
	"strings"
)

type EventType string

const (
	EventOpen    EventType = "open"
	EventMessage EventType = "message"
	EventClose   EventType = "close"
	EventError   EventType = "error"
)

// Event is the envelope pushed to a Sink for every lifecycle change of an instance.
// Data is either nil, a string or a CloseData.
type Event struct {
	Type       EventType  `json:"type"`
	Extensions string     `json:"extensions"`
	ReadyState ReadyState `json:"readyState"`
	IsBinary   bool       `json:"isBinary"`
	Data       any        `json:"data,omitempty"`
}

// CloseData is the payload of a close event.
type CloseData struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{type=%s,readyState=%s,binary=%t,data=%v}",
		e.Type, e.ReadyState, e.IsBinary, e.Data)
}

// encodeBinary renders a binary frame for delivery according to the instance preference.
func encodeBinary(bt BinaryType, data []byte) string {
	if bt == BinaryTypeArrayBuffer {
		return base64.StdEncoding.EncodeToString(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
