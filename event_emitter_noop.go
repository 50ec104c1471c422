package wsbridge

// noopEmitter discards every emission. Instances built without a registry use it.
type noopEmitter[K comparable, V any] struct{}

func (noopEmitter[K, V]) Emit(K, V) {}
