package wsbridge

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait           = 5 * time.Second
	maxCloseReasonBytes = 123
	headerExtensions    = "Sec-WebSocket-Extensions"
)

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// WsTransport dials websocket connections from a shared base dialer. Each connection gets
	// its own reader and writer goroutines; Shutdown waits for all of them.
	WsTransport struct {
		errAdapters ErrorAdapters
		logger      Logger
		dialer      websocket.Dialer
		cfg         DialerConfig

		ctx    context.Context
		cancel context.CancelFunc
		wg     sync.WaitGroup
		mu     sync.Mutex
		closed bool
	}

	// WsConnection is the Conn handed to the listener once the handshake succeeds.
	WsConnection struct {
		logger   Logger
		conn     *websocket.Conn
		listener Listener
		cfg      DialerConfig

		send     chan string     // text frames waiting for the writer
		closeReq chan closeFrame // at most one close frame per connection

		closeChan chan struct{}
		closeOnce sync.Once

		mu          sync.Mutex
		closeSent   bool
		terminated  bool
		closeReason error
		closeTimer  *time.Timer
	}

	closeFrame struct {
		code   int
		reason string
	}
)

// NewWebsocketTransport builds a transport. When dialer is nil one is derived from cfg;
// otherwise cfg only supplies the timeouts the dialer does not cover.
func NewWebsocketTransport(
	logger Logger,
	dialer *websocket.Dialer,
	cfg DialerConfig,
	errorHandlers ErrorAdapters,
) *WsTransport {
	var base websocket.Dialer
	if dialer != nil {
		base = *dialer
	} else {
		base = websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  cfg.HandshakeTimeout,
			EnableCompression: cfg.EnableCompression,
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
		}
	}
	if base.HandshakeTimeout <= 0 {
		base.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WsTransport{
		errAdapters: errorHandlers,
		logger:      logger.WithField("net", "ws_transport"),
		dialer:      base,
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Open dials in the background and reports the outcome to the listener.
func (t *WsTransport) Open(params OpenConnectionParams, listener Listener) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		go listener.OnFailure(errors.Wrap(ErrTerminated, "transport is shut down"))
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		t.serve(params, listener)
	}()
}

// Shutdown stops accepting new connections and waits for the running ones to finish. When ctx
// expires first, pending dials are cancelled and remaining sockets are torn down.
func (t *WsTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.logger.Warnf("forcing shutdown of remaining connections: %s", ctx.Err())
		t.cancel()
		<-done
		return ctx.Err()
	}
}

func (t *WsTransport) serve(params OpenConnectionParams, listener Listener) {
	dialer := t.dialer
	if params.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = params.HandshakeTimeout
	}

	ctx, cancel := context.WithTimeout(t.ctx, dialer.HandshakeTimeout)
	conn, resp, err := dialer.DialContext(ctx, params.URL.String(), params.Header)
	cancel()

	if err = t.handleDialError(conn, resp, err); err != nil {
		t.logger.Errorf("connection err to %s: %s", params.URL.String(), err)
		if conn != nil {
			_ = conn.Close()
		}
		listener.OnFailure(WrapErrorUnrecoverableConnection(err, params.URL))
		return
	}

	t.logger.Debugf("success opening connection to %s", params.URL.String())

	c := newWsConnection(t.logger, conn, listener, t.cfg)

	handshake := HandshakeResponse{Protocol: conn.Subprotocol()}
	if resp != nil {
		handshake.Header = resp.Header
		handshake.Extensions = strings.Join(resp.Header.Values(headerExtensions), ", ")
	}

	listener.OnOpen(c, handshake)

	c.run(t.ctx)
}

func (t *WsTransport) handleDialError(conn *websocket.Conn, resp *http.Response, err error) error {
	if t.errAdapters.OnDial != nil {
		return t.errAdapters.OnDial(conn, resp, err)
	}

	if err == nil {
		return nil
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, readErr := io.ReadAll(resp.Body)
			if readErr == nil {
				msg = strings.TrimSpace(string(bts))
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimit, msg)
		}
		if msg != "" {
			return errors.Wrapf(ErrCannotConnect, "%s: status %d: %s", err, resp.StatusCode, msg)
		}
		return errors.Wrapf(ErrCannotConnect, "%s: status %d", err, resp.StatusCode)
	}

	// 2. Network errors
	return errors.Wrap(ErrCannotConnect, err.Error())
}

func newWsConnection(logger Logger, conn *websocket.Conn, listener Listener, cfg DialerConfig) *WsConnection {
	return &WsConnection{
		logger:    logger.WithField("net", "ws_connection"),
		conn:      conn,
		listener:  listener,
		cfg:       cfg,
		send:      make(chan string, cfg.SendQueueSize),
		closeReq:  make(chan closeFrame, 1),
		closeChan: make(chan struct{}),
	}
}

// Send enqueues a text frame for the writer goroutine.
func (w *WsConnection) Send(text string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closeSent || w.terminated {
		return false
	}

	select {
	case w.send <- text:
		return true
	default:
		w.logger.Warnf("send queue is full, dropping frame")
		return false
	}
}

// Close queues a close frame. Frames already queued by Send are written before it.
func (w *WsConnection) Close(code int, reason string) (bool, error) {
	if err := validateCloseCode(code); err != nil {
		return false, err
	}
	if len(reason) > maxCloseReasonBytes {
		return false, errors.Wrapf(ErrReasonTooLong, "reason.size() > %d: %s", maxCloseReasonBytes, reason)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closeSent || w.terminated {
		return false, nil
	}

	w.closeSent = true
	w.closeReq <- closeFrame{code: code, reason: reason}

	return true, nil
}

func (w *WsConnection) run(ctx context.Context) {
	w.conn.SetCloseHandler(w.handleClose)

	go w.write()
	go w.watch(ctx)

	w.read()
}

func (w *WsConnection) read() {
	for {
		messageType, bts, err := w.conn.ReadMessage()
		if err != nil {
			w.finish(err)
			return
		}
		// message types from ReadMessage are either binary or text
		switch messageType {
		case websocket.BinaryMessage:
			w.logger.Debugf("<= [BIN] %d bytes", len(bts))
			w.listener.OnBinaryMessage(bts)
		default:
			w.logger.Debugf("<= [DATA] %s", string(bts))
			w.listener.OnTextMessage(string(bts))
		}
	}
}

// handleClose runs on the reader goroutine when the peer's close frame arrives. The peer's
// frame is echoed unless we already sent ours. closeSent is set before the listener hears
// about it, so a Close racing with the notification reports false.
func (w *WsConnection) handleClose(code int, text string) error {
	w.logger.Debugf("<= [CLOSE] %d %s", code, text)

	w.mu.Lock()
	alreadySent := w.closeSent
	w.closeSent = true
	w.mu.Unlock()

	w.listener.OnClosing(code, text)

	if !alreadySent {
		msg := websocket.FormatCloseMessage(code, "")
		if err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			w.logger.Debugf("cannot echo close frame: %s", err)
		}
	}

	return nil
}

func (w *WsConnection) finish(err error) {
	w.mu.Lock()
	w.terminated = true
	reason := w.closeReason
	w.mu.Unlock()

	w.teardown()

	var closeErr *websocket.CloseError
	switch {
	case reason != nil:
		w.logger.Infof("connection aborted: %s", reason)
		w.listener.OnFailure(reason)
	case errors.As(err, &closeErr):
		w.logger.Infof("connection closed with code %d", closeErr.Code)
		w.listener.OnClosed(closeErr.Code, closeErr.Text)
	default:
		w.logger.Errorf("error occurred on websocket read: %s", err)
		w.listener.OnFailure(errors.Wrap(ErrConnectionClosed, err.Error()))
	}
}

func (w *WsConnection) write() {
	var ping <-chan time.Time
	if w.cfg.PingInterval > 0 {
		ticker := time.NewTicker(w.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-w.closeChan:
			return
		case text := <-w.send:
			w.writeText(text)
		case frame := <-w.closeReq:
			w.drain()
			w.writeClose(frame)
		case <-ping:
			w.logger.Debugln("=> [PING]")
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				w.logger.Warnf("cannot write ping: %s", err)
			}
		}
	}
}

func (w *WsConnection) drain() {
	for {
		select {
		case text := <-w.send:
			w.writeText(text)
		default:
			return
		}
	}
}

func (w *WsConnection) writeText(text string) {
	w.logger.Debugf("=> [DATA] %s", text)
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		// the reader notices a dead socket on its own
		w.logger.Warnf("cannot write frame: %s", err)
	}
}

func (w *WsConnection) writeClose(frame closeFrame) {
	w.logger.Debugf("=> [CLOSE] %d %s", frame.code, frame.reason)
	msg := websocket.FormatCloseMessage(frame.code, frame.reason)
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		w.logger.Warnf("cannot write close frame: %s", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.terminated {
		w.closeTimer = time.AfterFunc(w.cfg.CloseTimeout, func() {
			w.abort(ErrCloseTimeout)
		})
	}
}

// watch tears the socket down when the transport shuts down.
func (w *WsConnection) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		w.abort(ErrTerminated)
	case <-w.closeChan:
	}
}

// abort closes the socket under the reader, which then reports reason as a failure.
func (w *WsConnection) abort(reason error) {
	w.mu.Lock()
	if w.terminated {
		w.mu.Unlock()
		return
	}
	if w.closeReason == nil {
		w.closeReason = reason
	}
	w.mu.Unlock()

	_ = w.conn.Close()
}

func (w *WsConnection) teardown() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		if w.closeTimer != nil {
			w.closeTimer.Stop()
		}
		w.mu.Unlock()

		_ = w.conn.Close()
		close(w.closeChan)
	})
}

func validateCloseCode(code int) error {
	switch {
	case code < 1000 || code >= 5000:
		return errors.Wrapf(ErrInvalidCloseCode, "code must be in range [1000,5000): %d", code)
	case (code >= 1004 && code <= 1006) || (code >= 1015 && code <= 2999):
		return errors.Wrapf(ErrInvalidCloseCode, "code %d is reserved and may not be used", code)
	}
	return nil
}
