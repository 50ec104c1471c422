// Package wsbridgetest provides test doubles for code built on wsbridge: a transport that never
// touches the network, a testify mock of the connection handle and a recording sink.
package wsbridgetest

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sonirico/wsbridge"
)

// Opened is one call to Transport.Open.
type Opened struct {
	Params   wsbridge.OpenConnectionParams
	Listener wsbridge.Listener
}

// Transport records Open calls. Tests drive the recorded listeners by hand.
type Transport struct {
	OpenFunc     func(params wsbridge.OpenConnectionParams, listener wsbridge.Listener)
	ShutdownFunc func(ctx context.Context) error

	mu       sync.Mutex
	opened   []Opened
	shutdown int
}

func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) Open(params wsbridge.OpenConnectionParams, listener wsbridge.Listener) {
	t.mu.Lock()
	t.opened = append(t.opened, Opened{Params: params, Listener: listener})
	t.mu.Unlock()

	if t.OpenFunc != nil {
		t.OpenFunc(params, listener)
	}
}

func (t *Transport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.shutdown++
	t.mu.Unlock()

	if t.ShutdownFunc != nil {
		return t.ShutdownFunc(ctx)
	}
	return nil
}

func (t *Transport) Opened() []Opened {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Opened, len(t.opened))
	copy(out, t.opened)
	return out
}

// Last returns the most recent Open call. It panics when there was none.
func (t *Transport) Last() Opened {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.opened[len(t.opened)-1]
}

func (t *Transport) ShutdownCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shutdown
}

// Conn is a testify mock of wsbridge.Conn.
type Conn struct {
	mock.Mock
}

func (c *Conn) Send(text string) bool {
	args := c.Called(text)
	return args.Bool(0)
}

func (c *Conn) Close(code int, reason string) (bool, error) {
	args := c.Called(code, reason)
	return args.Bool(0), args.Error(1)
}

// Recorder is a Sink that keeps every event it receives. Err, when set, is returned from Push
// after recording.
type Recorder struct {
	Err error

	mu     sync.Mutex
	events []wsbridge.Event
}

func (r *Recorder) Push(e wsbridge.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return r.Err
}

func (r *Recorder) Events() []wsbridge.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]wsbridge.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
