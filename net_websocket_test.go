package wsbridge

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

type notification struct {
	kind      string
	conn      Conn
	resp      HandshakeResponse
	text      string
	data      []byte
	code      int
	reason    string
	err       error
	initiated bool
}

type chanListener struct {
	ch chan notification

	// closeOnClosing makes OnClosing call Close on the connection and record the outcome.
	closeOnClosing bool
	conn           Conn
}

func newChanListener() *chanListener {
	return &chanListener{ch: make(chan notification, 64)}
}

func (l *chanListener) OnOpen(conn Conn, resp HandshakeResponse) {
	l.conn = conn
	l.ch <- notification{kind: "open", conn: conn, resp: resp}
}

func (l *chanListener) OnTextMessage(text string) {
	l.ch <- notification{kind: "text", text: text}
}

func (l *chanListener) OnBinaryMessage(data []byte) {
	l.ch <- notification{kind: "binary", data: data}
}

func (l *chanListener) OnClosing(code int, reason string) {
	n := notification{kind: "closing", code: code, reason: reason}
	if l.closeOnClosing {
		n.initiated, n.err = l.conn.Close(1000, "")
	}
	l.ch <- n
}

func (l *chanListener) OnClosed(code int, reason string) {
	l.ch <- notification{kind: "closed", code: code, reason: reason}
}

func (l *chanListener) OnFailure(err error) {
	l.ch <- notification{kind: "failure", err: err}
}

func (l *chanListener) next(t *testing.T, kind string) notification {
	t.Helper()

	select {
	case n := <-l.ch:
		require.Equal(t, kind, n.kind, "unexpected notification %+v", n)
		return n
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting for "+kind)
		return notification{}
	}
}

func newTestTransport(t *testing.T, cfg DialerConfig) *WsTransport {
	t.Helper()

	tr := NewWebsocketTransport(NopLogger(), nil, cfg, ErrorAdapters{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = tr.Shutdown(ctx)
	})
	return tr
}

// echoHandler echoes text frames. "binary" is answered with a binary "hi" and "close-me"
// makes the server start the close handshake.
func echoHandler(t *testing.T, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %s", err)
			return
		}
		defer conn.Close()

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch string(msg) {
			case "binary":
				err = conn.WriteMessage(websocket.BinaryMessage, []byte("hi"))
			case "close-me":
				err = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(4000, "bye"),
					time.Now().Add(time.Second),
				)
			default:
				err = conn.WriteMessage(mt, msg)
			}
			if err != nil {
				return
			}
		}
	}
}

func openParams(t *testing.T, rawURL string, protocols ...string) OpenConnectionParams {
	t.Helper()

	params, err := NewOpenConnectionParams(ConnectRequest{URL: rawURL, Protocols: protocols})
	require.NoError(t, err)
	return params
}

func TestWsTransport_OpenSendClose(t *testing.T) {
	srv := httptest.NewServer(echoHandler(t, websocket.Upgrader{
		Subprotocols:      []string{"chat"},
		EnableCompression: true,
	}))
	t.Cleanup(srv.Close)

	tr := newTestTransport(t, DialerConfig{EnableCompression: true})
	l := newChanListener()
	tr.Open(openParams(t, srv.URL, "superchat", "chat"), l)

	opened := l.next(t, "open")
	assert.Equal(t, "chat", opened.resp.Protocol)
	assert.Contains(t, opened.resp.Extensions, "permessage-deflate")
	conn := opened.conn

	require.True(t, conn.Send("hello"))
	assert.Equal(t, "hello", l.next(t, "text").text)

	require.True(t, conn.Send("binary"))
	assert.Equal(t, []byte("hi"), l.next(t, "binary").data)

	initiated, err := conn.Close(1000, "done")
	require.NoError(t, err)
	assert.True(t, initiated)

	initiated, err = conn.Close(1000, "again")
	require.NoError(t, err)
	assert.False(t, initiated)
	assert.False(t, conn.Send("late"))

	assert.Equal(t, 1000, l.next(t, "closing").code)
	assert.Equal(t, 1000, l.next(t, "closed").code)
}

func TestWsTransport_ServerInitiatedClose(t *testing.T) {
	srv := httptest.NewServer(echoHandler(t, websocket.Upgrader{}))
	t.Cleanup(srv.Close)

	tr := newTestTransport(t, DialerConfig{})
	l := newChanListener()
	tr.Open(openParams(t, srv.URL), l)

	conn := l.next(t, "open").conn

	require.True(t, conn.Send("close-me"))

	closing := l.next(t, "closing")
	assert.Equal(t, 4000, closing.code)
	assert.Equal(t, "bye", closing.reason)

	closed := l.next(t, "closed")
	assert.Equal(t, 4000, closed.code)
	assert.Equal(t, "bye", closed.reason)

	initiated, err := conn.Close(1000, "")
	require.NoError(t, err)
	assert.False(t, initiated)
}

func TestWsTransport_CloseDuringRemoteClosing(t *testing.T) {
	srv := httptest.NewServer(echoHandler(t, websocket.Upgrader{}))
	t.Cleanup(srv.Close)

	tr := newTestTransport(t, DialerConfig{})
	l := newChanListener()
	l.closeOnClosing = true
	tr.Open(openParams(t, srv.URL), l)

	conn := l.next(t, "open").conn
	require.True(t, conn.Send("close-me"))

	closing := l.next(t, "closing")
	assert.Equal(t, 4000, closing.code)
	require.NoError(t, closing.err)
	assert.False(t, closing.initiated)

	assert.Equal(t, 4000, l.next(t, "closed").code)
}

func TestWsTransport_DialFailures(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		require.NoError(t, ln.Close())

		tr := newTestTransport(t, DialerConfig{})
		l := newChanListener()
		tr.Open(openParams(t, "ws://"+addr), l)

		failure := l.next(t, "failure")
		assert.ErrorIs(t, failure.err, ErrCannotConnect)

		var unrecoverable *ErrUnrecoverableConnection
		require.True(t, errors.As(failure.err, &unrecoverable))
		assert.Contains(t, unrecoverable.Error(), addr)
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}))
		t.Cleanup(srv.Close)

		tr := newTestTransport(t, DialerConfig{})
		l := newChanListener()
		tr.Open(openParams(t, srv.URL), l)

		failure := l.next(t, "failure")
		assert.ErrorIs(t, failure.err, ErrRateLimit)
		assert.Contains(t, failure.err.Error(), "slow down")
	})

	t.Run("rejected upgrade", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}))
		t.Cleanup(srv.Close)

		tr := newTestTransport(t, DialerConfig{})
		l := newChanListener()
		tr.Open(openParams(t, srv.URL), l)

		failure := l.next(t, "failure")
		assert.ErrorIs(t, failure.err, ErrCannotConnect)
		assert.Contains(t, failure.err.Error(), "status 403")
	})
}

func TestWsTransport_HandshakeTimeoutOverride(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	// accept and never answer the upgrade
	accepted := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				close(accepted)
				return
			}
			accepted <- c
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		for c := range accepted {
			_ = c.Close()
		}
	})

	tr := newTestTransport(t, DialerConfig{HandshakeTimeout: time.Minute})
	l := newChanListener()

	params := openParams(t, "ws://"+ln.Addr().String())
	params.HandshakeTimeout = 100 * time.Millisecond

	start := time.Now()
	tr.Open(params, l)

	failure := l.next(t, "failure")
	assert.ErrorIs(t, failure.err, ErrCannotConnect)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestWsTransport_CloseValidation(t *testing.T) {
	srv := httptest.NewServer(echoHandler(t, websocket.Upgrader{}))
	t.Cleanup(srv.Close)

	tr := newTestTransport(t, DialerConfig{})
	l := newChanListener()
	tr.Open(openParams(t, srv.URL), l)

	conn := l.next(t, "open").conn

	_, err := conn.Close(1005, "")
	assert.ErrorIs(t, err, ErrInvalidCloseCode)

	_, err = conn.Close(999, "")
	assert.ErrorIs(t, err, ErrInvalidCloseCode)

	_, err = conn.Close(1000, strings.Repeat("r", 124))
	assert.ErrorIs(t, err, ErrReasonTooLong)

	// rejected closes leave the connection usable
	require.True(t, conn.Send("still here"))
	assert.Equal(t, "still here", l.next(t, "text").text)

	initiated, err := conn.Close(4001, strings.Repeat("r", 123))
	require.NoError(t, err)
	assert.True(t, initiated)
	l.next(t, "closing")
	assert.Equal(t, 4001, l.next(t, "closed").code)
}

func TestWsTransport_CloseTimeout(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// never read, so the close frame is never answered
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	tr := newTestTransport(t, DialerConfig{CloseTimeout: 100 * time.Millisecond})
	l := newChanListener()
	tr.Open(openParams(t, srv.URL), l)

	conn := l.next(t, "open").conn

	initiated, err := conn.Close(1000, "")
	require.NoError(t, err)
	require.True(t, initiated)

	assert.ErrorIs(t, l.next(t, "failure").err, ErrCloseTimeout)
}

func TestWsTransport_KeepAlive(t *testing.T) {
	pings := make(chan struct{}, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetPingHandler(func(data string) error {
			select {
			case pings <- struct{}{}:
			default:
			}
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	tr := newTestTransport(t, DialerConfig{PingInterval: 20 * time.Millisecond})
	l := newChanListener()
	tr.Open(openParams(t, srv.URL), l)

	l.next(t, "open")

	select {
	case <-pings:
	case <-time.After(waitTimeout):
		require.FailNow(t, "no ping received")
	}
}

func TestWsTransport_Shutdown(t *testing.T) {
	t.Run("forces open connections", func(t *testing.T) {
		srv := httptest.NewServer(echoHandler(t, websocket.Upgrader{}))
		t.Cleanup(srv.Close)

		tr := NewWebsocketTransport(NopLogger(), nil, DialerConfig{}, ErrorAdapters{})
		l := newChanListener()
		tr.Open(openParams(t, srv.URL), l)
		l.next(t, "open")

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		assert.ErrorIs(t, tr.Shutdown(ctx), context.DeadlineExceeded)
		assert.ErrorIs(t, l.next(t, "failure").err, ErrTerminated)
	})

	t.Run("waits for closed connections", func(t *testing.T) {
		srv := httptest.NewServer(echoHandler(t, websocket.Upgrader{}))
		t.Cleanup(srv.Close)

		tr := NewWebsocketTransport(NopLogger(), nil, DialerConfig{}, ErrorAdapters{})
		l := newChanListener()
		tr.Open(openParams(t, srv.URL), l)

		conn := l.next(t, "open").conn
		_, err := conn.Close(1000, "")
		require.NoError(t, err)
		l.next(t, "closing")
		l.next(t, "closed")

		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		assert.NoError(t, tr.Shutdown(ctx))
	})

	t.Run("rejects new connections", func(t *testing.T) {
		tr := NewWebsocketTransport(NopLogger(), nil, DialerConfig{}, ErrorAdapters{})
		require.NoError(t, tr.Shutdown(context.Background()))

		l := newChanListener()
		tr.Open(openParams(t, "ws://127.0.0.1:1"), l)

		assert.ErrorIs(t, l.next(t, "failure").err, ErrTerminated)
	})
}

func TestWsTransport_DialErrorAdapter(t *testing.T) {
	adapted := errors.New("adapted")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(srv.Close)

	tr := NewWebsocketTransport(NopLogger(), nil, DialerConfig{}, ErrorAdapters{
		OnDial: func(_ *websocket.Conn, resp *http.Response, err error) error {
			if err != nil && resp != nil && resp.StatusCode == http.StatusTeapot {
				return adapted
			}
			return err
		},
	})
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })

	l := newChanListener()
	tr.Open(openParams(t, srv.URL), l)

	assert.ErrorIs(t, l.next(t, "failure").err, adapted)
}
