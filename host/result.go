package host

type Status string

const (
	StatusOK       Status = "ok"
	StatusError    Status = "error"
	StatusNoResult Status = "no_result"
)

// Result answers a host command. With KeepCallback set the host keeps the callback alive for
// further results carrying the same CallbackID.
type Result struct {
	CallbackID   string `json:"callbackId,omitempty"`
	Status       Status `json:"status"`
	KeepCallback bool   `json:"keepCallback,omitempty"`
	Payload      any    `json:"payload,omitempty"`
	Error        string `json:"error,omitempty"`
}

type (
	Callback interface {
		Send(r Result) error
	}

	CallbackFunc func(r Result) error
)

func (f CallbackFunc) Send(r Result) error {
	return f(r)
}

func success(payload any) Result {
	return Result{Status: StatusOK, Payload: payload}
}

func failure(msg string) Result {
	return Result{Status: StatusError, Error: msg}
}

func noResult(keep bool) Result {
	return Result{Status: StatusNoResult, KeepCallback: keep}
}
