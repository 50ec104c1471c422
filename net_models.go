package wsbridge

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type (
	// HandshakeResponse carries what the server negotiated during the upgrade.
	HandshakeResponse struct {
		Extensions string
		Protocol   string
		Header     http.Header
	}

	// Conn is the live handle of an established connection. Implementations must be safe for
	// concurrent use and must never call back into the Listener synchronously.
	Conn interface {
		// Send enqueues a text frame. It reports false when the frame could not be queued.
		Send(text string) bool
		// Close starts the close handshake. It reports false, with a nil error, when a close
		// handshake is already underway or the connection is gone. A non-nil error means the
		// request was rejected and nothing changed.
		Close(code int, reason string) (bool, error)
	}

	// Listener receives transport notifications for one connection. The transport delivers
	// them one at a time: at most one OnOpen, then messages, optionally one OnClosing, and
	// exactly one of OnClosed or OnFailure.
	Listener interface {
		OnOpen(conn Conn, resp HandshakeResponse)
		OnTextMessage(text string)
		OnBinaryMessage(data []byte)
		OnClosing(code int, reason string)
		OnClosed(code int, reason string)
		OnFailure(err error)
	}

	// Transport opens connections without blocking the caller.
	Transport interface {
		Open(params OpenConnectionParams, listener Listener)
		Shutdown(ctx context.Context) error
	}

	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
		// HandshakeTimeout overrides the transport default when positive.
		HandshakeTimeout time.Duration
	}
)
