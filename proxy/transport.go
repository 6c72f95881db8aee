package proxy

// Transport is the set of primitives the proxy layer needs from the underlying channel.
//
// Callbacks must be invoked on the same serialized execution context the Conn is used from,
// and the transport must deliver responses and notifications in the order it received them.
// Methods without a callback are fire-and-forget.
type Transport interface {
	// Call invokes a named remote operation.
	Call(op string, args []any, cb func(*Reply, error))

	Write(id StreamID, chunk []byte)
	// End ends a writable stream, optionally writing a final chunk first. chunk may be nil.
	End(id StreamID, chunk []byte)
	Destroy(id StreamID)
	Kill(pid int, signal string)
	CloseWatcher(id WatcherID)

	// Invoke calls a function declared by an installed extension.
	Invoke(ext, fn string, args []any, cb func(any, error))

	Subscribe(name string, cb func(error))
	Unsubscribe(name string, cb func(error))
	Emit(name string, value any)

	Ping(cb func(error))
}
