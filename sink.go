package wsbridge

type (
	// Sink receives the events of a single instance. Push is called from the transport worker
	// that owns the instance, one event at a time, so it should return quickly.
	Sink interface {
		Push(e Event) error
	}

	SinkFunc func(e Event) error

	// ChannelSink forwards events to a channel without blocking. Events that do not fit are
	// rejected with ErrSinkFull.
	ChannelSink chan<- Event
)

func (f SinkFunc) Push(e Event) error {
	return f(e)
}

func (c ChannelSink) Push(e Event) error {
	select {
	case c <- e:
		return nil
	default:
		return ErrSinkFull
	}
}
