package proxy

// listeners is an ordered list of handlers for one notification kind of one proxy.
type listeners[T any] struct {
	fns []func(T)
}

func (l *listeners[T]) add(fn func(T)) {
	l.fns = append(l.fns, fn)
}

func (l *listeners[T]) emit(v T) {
	// handlers added while emitting only see the next notification
	for _, fn := range l.fns {
		fn(v)
	}
}

func (l *listeners[T]) reset() {
	l.fns = nil
}

// noArg adapts a no-argument handler.
func noArg(fn func()) func(struct{}) {
	return func(struct{}) { fn() }
}
