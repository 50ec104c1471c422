package wsbridge

// LifecycleEvent names registry-level notifications about an instance. Listeners receive the
// instance id.
type LifecycleEvent string

const (
	LifecycleConnected LifecycleEvent = "connected"
	LifecycleOpened    LifecycleEvent = "opened"
	LifecycleClosed    LifecycleEvent = "closed"
	LifecycleFailed    LifecycleEvent = "failed"
	LifecycleRemoved   LifecycleEvent = "removed"
)
