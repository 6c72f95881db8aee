package proxy

import (
	"go.uber.org/zap"
)

type subState int

// A name with no entry is unregistered.
const (
	subscribing subState = iota + 1
	subscribed
	unsubscribing
)

func (s subState) String() string {
	switch s {
	case subscribing:
		return "subscribing"
	case subscribed:
		return "subscribed"
	case unsubscribing:
		return "unsubscribing"
	default:
		return "unregistered"
	}
}

// subscription is the single wire-level subscription shared by every local handler of one event name.
type subscription struct {
	name     string
	state    subState
	handlers []func(any)

	// callbacks waiting for the subscribe and unsubscribe acknowledgements, in call order
	onSubscribed   []func(error)
	onUnsubscribed []func(error)

	// registrations made while an unsubscribe was in flight, replayed once it completes
	deferred []deferredOn
}

type deferredOn struct {
	handler func(any)
	cb      func(error)
}

type subscriptions struct {
	log     *zap.SugaredLogger
	t       Transport
	entries map[string]*subscription
}

func newSubscriptions(log *zap.SugaredLogger, t Transport) *subscriptions {
	return &subscriptions{
		log:     log,
		t:       t,
		entries: map[string]*subscription{},
	}
}

func (s *subscriptions) on(name string, handler func(any), cb func(error)) {
	e, ok := s.entries[name]
	if ok {
		switch e.state {
		case subscribed:
			e.handlers = append(e.handlers, handler)
			cb(nil)
		case subscribing:
			e.handlers = append(e.handlers, handler)
			e.onSubscribed = append(e.onSubscribed, cb)
		case unsubscribing:
			e.deferred = append(e.deferred, deferredOn{handler: handler, cb: cb})
		}
		return
	}

	e = &subscription{
		name:         name,
		state:        subscribing,
		handlers:     []func(any){handler},
		onSubscribed: []func(error){cb},
	}
	s.entries[name] = e
	s.log.Debugw("subscribing", "Name", name)
	s.t.Subscribe(name, func(err error) { s.subscribed(e, err) })
}

func (s *subscriptions) subscribed(e *subscription, err error) {
	s.log.Debugw("subscribe acknowledged", "Name", e.name, "Error", err)
	if e.state == subscribing {
		e.state = subscribed
	}
	cbs := e.onSubscribed
	e.onSubscribed = nil
	for _, cb := range cbs {
		cb(err)
	}
}

func (s *subscriptions) off(name string, cb func(error)) {
	e, ok := s.entries[name]
	if !ok {
		cb(nil)
		return
	}
	e.onUnsubscribed = append(e.onUnsubscribed, cb)
	if e.state == unsubscribing {
		return
	}
	e.state = unsubscribing
	s.log.Debugw("unsubscribing", "Name", name)
	s.t.Unsubscribe(name, func(err error) { s.unsubscribed(e, err) })
}

func (s *subscriptions) unsubscribed(e *subscription, err error) {
	s.log.Debugw("unsubscribe acknowledged", "Name", e.name, "Error", err)
	if s.entries[e.name] == e {
		delete(s.entries, e.name)
	}
	cbs := e.onUnsubscribed
	e.onUnsubscribed = nil
	for _, cb := range cbs {
		cb(err)
	}
	deferred := e.deferred
	e.deferred = nil
	for _, d := range deferred {
		s.on(e.name, d.handler, d.cb)
	}
}

func (s *subscriptions) onEvent(name string, value any) {
	e, ok := s.entries[name]
	if !ok {
		return
	}
	for _, h := range e.handlers {
		h(value)
	}
}
