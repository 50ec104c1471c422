package wsbridge

import "fmt"

const (
	DefaultCloseCode   = 1000
	DefaultCloseReason = "Normal closure"
)

type CloseStatus int

const (
	// CloseInitiated means a close handshake was started by this request.
	CloseInitiated CloseStatus = iota
	// CloseNotApplicable means there was nothing to close: the connection never opened, or a
	// close handshake was already underway, or the socket is already gone.
	CloseNotApplicable
	// CloseFailed means the transport rejected the request. Err holds the reason.
	CloseFailed
)

func (s CloseStatus) String() string {
	switch s {
	case CloseInitiated:
		return "initiated"
	case CloseNotApplicable:
		return "not_applicable"
	case CloseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type CloseResult struct {
	Status CloseStatus
	Err    error
}

func (r CloseResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s", r.Status, r.Err)
	}
	return r.Status.String()
}

func closeInitiated() CloseResult     { return CloseResult{Status: CloseInitiated} }
func closeNotApplicable() CloseResult { return CloseResult{Status: CloseNotApplicable} }
func closeFailed(err error) CloseResult {
	return CloseResult{Status: CloseFailed, Err: err}
}
