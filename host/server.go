package host

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pkg/errors"

	"github.com/sonirico/wsbridge"
)

const (
	// Subprotocol is offered to hosts during the upgrade.
	Subprotocol = "wsbridge.v1"

	defaultReadLimit    = 1 << 20
	defaultWriteTimeout = 5 * time.Second
)

var ErrSessionClosed = errors.New("host session closed")

// Request is one command frame sent by the host.
type Request struct {
	CallbackID string `json:"callbackId"`
	Action     string `json:"action"`
	Args       Args   `json:"args"`
}

// Server accepts host sessions over websocket. Each session may issue any number of commands;
// results, including pushed events, come back on the same socket tagged with the callback id.
type Server struct {
	dispatcher   *Dispatcher
	logger       wsbridge.Logger
	accept       websocket.AcceptOptions
	readLimit    int64
	writeTimeout time.Duration
}

type ServerOption func(*Server)

// WithOriginPatterns restricts which browser origins may open a session.
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) {
		s.accept.OriginPatterns = patterns
	}
}

// WithReadLimit caps the size of one host frame. Non-positive values keep the default.
func WithReadLimit(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

func NewServer(dispatcher *Dispatcher, logger wsbridge.Logger, opts ...ServerOption) *Server {
	s := &Server{
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "host_server"),
		accept: websocket.AcceptOptions{
			Subprotocols: []string{Subprotocol},
		},
		readLimit:    defaultReadLimit,
		writeTimeout: defaultWriteTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accept := s.accept
	conn, err := websocket.Accept(w, r, &accept)
	if err != nil {
		s.logger.Warnf("cannot accept host session from %s: %s", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(s.readLimit)

	sess := &session{
		conn:         conn,
		logger:       s.logger.WithField("remote", r.RemoteAddr),
		writeTimeout: s.writeTimeout,
	}
	sess.ctx, sess.cancel = context.WithCancel(r.Context())

	sess.logger.Infoln("host session opened")
	sess.serve(s.dispatcher)
}

type session struct {
	conn         *websocket.Conn
	logger       wsbridge.Logger
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func (s *session) serve(d *Dispatcher) {
	defer s.shutdown()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.logger.Infoln("host session closed")
			default:
				s.logger.Warnf("host session ended: %s", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Warnf("malformed host frame: %s", err)
			_ = s.send(Result{Status: StatusError, Error: "malformed request: " + err.Error()})
			continue
		}

		s.logger.Debugf("<= %s %s", req.Action, req.CallbackID)
		d.Execute(req.Action, req.Args, sessionCallback{session: s, id: req.CallbackID})
	}
}

// send writes one result. Results that cannot be encoded or written are dropped.
func (s *session) send(r Result) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSessionClosed
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, s.conn, r); err != nil {
		return errors.Wrap(err, "cannot write result")
	}
	return nil
}

func (s *session) shutdown() {
	s.cancel()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	_ = s.conn.Close(websocket.StatusNormalClosure, "")
}

type sessionCallback struct {
	session *session
	id      string
}

func (c sessionCallback) Send(r Result) error {
	r.CallbackID = c.id
	return c.session.send(r)
}
