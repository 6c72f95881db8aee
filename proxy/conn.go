package proxy

import (
	"fmt"

	"go.uber.org/zap"
)

// Conn holds the proxy state of one connection: a registry per resource kind plus the subscription table.
// It is not goroutine-safe, see the package documentation.
type Conn struct {
	log       *zap.SugaredLogger
	transport Transport
	onFault   func(error)

	streams   *streamRegistry
	processes *processRegistry
	watchers  *watcherRegistry
	apis      *apiRegistry
	subs      *subscriptions

	disconnect listeners[error]
}

type Option func(c *Conn)

func WithLogger(l *zap.Logger) Option {
	return func(c *Conn) {
		c.log = l.Named("proxy").Sugar()
	}
}

// WithFaultHandler sets a function that receives every *FaultError raised while dispatching notifications.
func WithFaultHandler(f func(error)) Option {
	return func(c *Conn) {
		c.onFault = f
	}
}

func NewConn(t Transport, opts ...Option) *Conn {
	c := &Conn{
		log:       zap.NewNop().Sugar(),
		transport: t,
	}
	for _, o := range opts {
		o(c)
	}
	c.streams = newStreamRegistry(c.log.Named("streams"), t)
	c.processes = newProcessRegistry(c.log.Named("processes"), t, c.streams)
	c.watchers = newWatcherRegistry(c.log.Named("watchers"), t)
	c.apis = newAPIRegistry(c.log.Named("apis"), t)
	c.subs = newSubscriptions(c.log.Named("subscriptions"), t)
	return c
}

// On registers handler for the remote event name. cb runs once the shared wire-level subscription is acknowledged.
func (c *Conn) On(name string, handler func(value any), cb func(error)) {
	if handler == nil || cb == nil {
		panic(fmt.Sprintf("proxy: On(%q) called without a handler or callback", name))
	}
	c.subs.on(name, handler, cb)
}

// Off unsubscribes from the remote event name.
//
// Off is scoped to the name, not to the handler: once the unsubscribe is acknowledged every handler
// registered for name is dropped. handler is accepted for symmetry with On and is not used to select one.
func (c *Conn) Off(name string, handler func(value any), cb func(error)) {
	if cb == nil {
		panic(fmt.Sprintf("proxy: Off(%q) called without a callback", name))
	}
	c.subs.off(name, cb)
}

// Emit sends a named event to the remote side.
func (c *Conn) Emit(name string, value any) {
	c.transport.Emit(name, value)
}

func (c *Conn) Ping(cb func(error)) {
	if cb == nil {
		panic("proxy: Ping called without a callback")
	}
	c.transport.Ping(cb)
}

// OnDisconnect registers fn for the loss of the underlying channel.
func (c *Conn) OnDisconnect(fn func(error)) { c.disconnect.add(fn) }

// Disconnected is called by the transport when the channel is gone.
// Registries are left untouched; no further notifications will arrive for them.
func (c *Conn) Disconnected(err error) {
	c.log.Debugw("disconnected", "Error", err)
	c.disconnect.emit(err)
}

// Stats is a snapshot of the number of live entries per registry.
type Stats struct {
	Streams       int
	Processes     int
	Watchers      int
	APIs          int
	Subscriptions int
}

func (c *Conn) Stats() Stats {
	return Stats{
		Streams:       len(c.streams.streams),
		Processes:     len(c.processes.processes),
		Watchers:      len(c.watchers.watchers),
		APIs:          len(c.apis.apis),
		Subscriptions: len(c.subs.entries),
	}
}
