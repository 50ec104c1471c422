package wsbridge

import (
	"sync"
)

// Instance is one logical websocket connection. It implements Listener, so the transport drives
// its state, and it forwards every change to the sink registered at the moment of emission.
type Instance struct {
	id         string
	url        string
	binaryType BinaryType
	logger     Logger
	hooks      emitter[LifecycleEvent, string]

	mu         sync.Mutex
	conn       Conn
	readyState ReadyState
	extensions string
	protocol   string
	sink       Sink
}

func newInstance(
	id string,
	url string,
	binaryType BinaryType,
	logger Logger,
	hooks emitter[LifecycleEvent, string],
) *Instance {
	if hooks == nil {
		hooks = noopEmitter[LifecycleEvent, string]{}
	}
	return &Instance{
		id:         id,
		url:        url,
		binaryType: ParseBinaryType(string(binaryType)),
		logger:     logger.WithField("instance", id),
		hooks:      hooks,
		readyState: Connecting,
	}
}

func (i *Instance) ID() string { return i.id }

func (i *Instance) URL() string { return i.url }

func (i *Instance) BinaryType() BinaryType { return i.binaryType }

func (i *Instance) ReadyState() ReadyState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.readyState
}

func (i *Instance) Extensions() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.extensions
}

// Protocol returns the subprotocol the server selected, empty when none.
func (i *Instance) Protocol() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.protocol
}

// RegisterSink replaces the current sink. The previous one stops receiving events and is not
// notified.
func (i *Instance) RegisterSink(sink Sink) {
	i.mu.Lock()
	i.sink = sink
	i.mu.Unlock()

	i.logger.Debugln("sink registered")
}

// Send forwards a text frame when the connection is open and silently drops it otherwise.
func (i *Instance) Send(message string) {
	i.mu.Lock()
	conn, state := i.conn, i.readyState
	i.mu.Unlock()

	if conn == nil || state != Open {
		i.logger.Debugf("ignoring send, connection is %s", state)
		return
	}

	if !conn.Send(message) {
		i.logger.Warnf("transport refused frame, dropping it")
		return
	}

	i.logger.Debugf("sent message=%s", message)
}

// Close moves to CLOSING and asks the transport to start the close handshake. The state stays
// CLOSING even when the transport rejects the request.
func (i *Instance) Close(code int, reason string) CloseResult {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.conn == nil {
		i.logger.Debugln("ignoring close, connection was never opened")
		return closeNotApplicable()
	}

	if !i.readyState.IsTerminal() {
		i.readyState = Closing
	}

	initiated, err := i.conn.Close(code, reason)
	if err != nil {
		i.logger.Warnf("close rejected: %s", err)
		return closeFailed(err)
	}

	if !initiated {
		i.logger.Debugln("close already underway or connection gone")
		return closeNotApplicable()
	}

	i.logger.Debugf("close initiated code=%d reason=%s", code, reason)
	return closeInitiated()
}

// CloseNormal is Close(1000, "Normal closure").
func (i *Instance) CloseNormal() CloseResult {
	return i.Close(DefaultCloseCode, DefaultCloseReason)
}

func (i *Instance) OnOpen(conn Conn, resp HandshakeResponse) {
	i.mu.Lock()
	if i.conn != nil || i.readyState.IsTerminal() {
		state := i.readyState
		i.mu.Unlock()
		i.logger.Warnf("unexpected open notification in state %s", state)
		return
	}
	i.conn = conn
	i.readyState = Open
	i.extensions = resp.Extensions
	i.protocol = resp.Protocol
	e, sink := i.eventLocked(EventOpen, nil, false)
	i.mu.Unlock()

	i.logger.Infof("opened, extensions=%s protocol=%s", resp.Extensions, resp.Protocol)
	i.hooks.Emit(LifecycleOpened, i.id)
	i.deliver(sink, e)
}

func (i *Instance) OnTextMessage(text string) {
	i.emit(EventMessage, text, false)
}

func (i *Instance) OnBinaryMessage(data []byte) {
	i.emit(EventMessage, encodeBinary(i.binaryType, data), true)
}

func (i *Instance) OnClosing(code int, reason string) {
	i.mu.Lock()
	if !i.readyState.IsTerminal() {
		i.readyState = Closing
	}
	i.mu.Unlock()

	i.logger.Infof("closing code=%d reason=%s", code, reason)
}

func (i *Instance) OnClosed(code int, reason string) {
	if !i.terminate(EventClose, CloseData{Code: code, Reason: reason}) {
		return
	}

	i.logger.Infof("closed code=%d reason=%s", code, reason)
	i.hooks.Emit(LifecycleClosed, i.id)
}

func (i *Instance) OnFailure(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	if !i.terminate(EventError, msg) {
		return
	}

	i.logger.Errorf("failure: %s", msg)
	i.hooks.Emit(LifecycleFailed, i.id)
}

// terminate moves to Closed and emits the terminal event. It reports false when the instance
// was already closed.
func (i *Instance) terminate(t EventType, data any) bool {
	i.mu.Lock()
	if i.readyState.IsTerminal() {
		i.mu.Unlock()
		return false
	}
	i.readyState = Closed
	e, sink := i.eventLocked(t, data, false)
	i.mu.Unlock()

	i.deliver(sink, e)
	return true
}

func (i *Instance) emit(t EventType, data any, isBinary bool) {
	i.mu.Lock()
	if i.readyState.IsTerminal() {
		i.mu.Unlock()
		return
	}
	e, sink := i.eventLocked(t, data, isBinary)
	i.mu.Unlock()

	i.deliver(sink, e)
}

func (i *Instance) eventLocked(t EventType, data any, isBinary bool) (Event, Sink) {
	return Event{
		Type:       t,
		Extensions: i.extensions,
		ReadyState: i.readyState,
		IsBinary:   isBinary,
		Data:       data,
	}, i.sink
}

func (i *Instance) deliver(sink Sink, e Event) {
	if sink == nil {
		i.logger.Debugf("no sink registered, dropping %s event", e.Type)
		return
	}

	if err := sink.Push(e); err != nil {
		i.logger.Warnf("cannot deliver %s event: %s", e.Type, err)
	}
}
