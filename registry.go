package wsbridge

import (
	"sync"

	"github.com/google/uuid"
)

// Registry maps instance ids to live instances and routes host commands to them.
type Registry struct {
	transport Transport
	cfg       Config
	logger    Logger
	newID     func() string
	hooks     *EventEmitterCallback[LifecycleEvent, string]

	mu        sync.RWMutex
	instances map[string]*Instance
}

type RegistryOption func(*Registry)

// WithIDGenerator replaces the uuid v4 generator.
func WithIDGenerator(f func() string) RegistryOption {
	return func(r *Registry) {
		r.newID = f
	}
}

func NewRegistry(transport Transport, cfg Config, logger Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		transport: transport,
		cfg:       cfg,
		logger:    logger.WithField("component", "registry"),
		newID:     uuid.NewString,
		hooks:     NewEventEmitter[LifecycleEvent, string](),
		instances: make(map[string]*Instance),
	}

	for _, opt := range opts {
		opt(r)
	}

	if cfg.EvictClosed {
		r.hooks.On(LifecycleClosed, r.evict)
		r.hooks.On(LifecycleFailed, r.evict)
	}

	return r
}

// On subscribes to lifecycle notifications. Listeners run on the goroutine that caused the
// change and must not block.
func (r *Registry) On(event LifecycleEvent, listener func(id string)) {
	r.hooks.On(event, listener)
}

// Connect registers a new instance and starts connecting it. The returned id is valid
// immediately; connection outcomes are reported as events.
func (r *Registry) Connect(req ConnectRequest) (string, error) {
	params, err := NewOpenConnectionParams(req)
	if err != nil {
		return "", err
	}
	if params.HandshakeTimeout <= 0 {
		params.HandshakeTimeout = r.cfg.Dialer.HandshakeTimeout
	}

	id := r.newID()
	inst := newInstance(id, params.URL.String(), req.BinaryType, r.logger, r.hooks)

	r.mu.Lock()
	r.instances[id] = inst
	r.mu.Unlock()

	r.logger.Infof("connecting instance %s to %s", id, inst.URL())
	r.hooks.Emit(LifecycleConnected, id)

	r.transport.Open(params, inst)

	return id, nil
}

func (r *Registry) Lookup(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[id]
	return inst, ok
}

func (r *Registry) Send(id, message string) error {
	inst, ok := r.Lookup(id)
	if !ok {
		return ErrInvalidInstance
	}

	inst.Send(message)
	return nil
}

// Close delegates to the instance and forgets it only when a close handshake was started.
func (r *Registry) Close(id string, code int, reason string) (CloseResult, error) {
	inst, ok := r.Lookup(id)
	if !ok {
		return CloseResult{}, ErrInvalidInstance
	}

	res := inst.Close(code, reason)
	if res.Status == CloseInitiated {
		r.remove(id, inst)
	}

	return res, nil
}

func (r *Registry) CloseNormal(id string) (CloseResult, error) {
	return r.Close(id, DefaultCloseCode, DefaultCloseReason)
}

func (r *Registry) RegisterListener(id string, sink Sink) error {
	inst, ok := r.Lookup(id)
	if !ok {
		return ErrInvalidInstance
	}

	inst.RegisterSink(sink)
	return nil
}

// ListClients returns the ids currently registered, in no particular order.
func (r *Registry) ListClients() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	return ids
}

// ShutdownAll closes every instance with the default code, ignoring outcomes, and empties the
// registry.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]*Instance)
	r.mu.Unlock()

	for id, inst := range instances {
		res := inst.CloseNormal()
		r.logger.Debugf("shutdown instance %s: %s", id, res)
		r.hooks.Emit(LifecycleRemoved, id)
	}

	r.logger.Infof("cleaned up %d instances", len(instances))
}

func (r *Registry) evict(id string) {
	inst, ok := r.Lookup(id)
	if !ok {
		return
	}
	r.remove(id, inst)
}

// remove deletes id only while it still maps to inst.
func (r *Registry) remove(id string, inst *Instance) {
	r.mu.Lock()
	current, ok := r.instances[id]
	if ok && current == inst {
		delete(r.instances, id)
	}
	r.mu.Unlock()

	if ok && current == inst {
		r.hooks.Emit(LifecycleRemoved, id)
	}
}
