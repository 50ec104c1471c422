package wsbridge

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const headerProtocol = "Sec-WebSocket-Protocol"

// ConnectRequest describes a connection the host asked for.
type ConnectRequest struct {
	URL        string
	Protocols  []string
	Headers    map[string]string
	BinaryType BinaryType
	// HandshakeTimeout overrides Config.HandshakeTimeout for this connection when positive.
	HandshakeTimeout time.Duration
}

// NewOpenConnectionParams turns a ConnectRequest into the handshake request the transport
// dials with. Headers are copied verbatim; protocols are joined into one header value.
func NewOpenConnectionParams(req ConnectRequest) (OpenConnectionParams, error) {
	u, err := parseWebsocketURL(req.URL)
	if err != nil {
		return OpenConnectionParams{}, err
	}

	// keys keep the caller's casing
	header := make(http.Header, len(req.Headers)+1)
	for k, v := range req.Headers {
		header[k] = append(header[k], v)
	}

	if protocols := JoinProtocols(req.Protocols); protocols != "" {
		header.Set(headerProtocol, protocols)
	}

	return OpenConnectionParams{
		URL:              *u,
		Header:           header,
		HandshakeTimeout: req.HandshakeTimeout,
	}, nil
}

// JoinProtocols joins non-empty subprotocol names with a single comma.
func JoinProtocols(protocols []string) string {
	names := make([]string, 0, len(protocols))
	for _, p := range protocols {
		if p == "" {
			continue
		}
		names = append(names, p)
	}
	return strings.Join(names, ",")
}

func parseWebsocketURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.Wrap(ErrInvalidURL, "empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidURL, err.Error())
	}

	// http(s) is accepted and rewritten, as browsers and OkHttp do.
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, errors.Wrapf(ErrInvalidURL, "unsupported scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return nil, errors.Wrap(ErrInvalidURL, "missing host")
	}

	return u, nil
}
