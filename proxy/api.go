package proxy

import (
	"fmt"

	"go.uber.org/zap"
)

// Func is a forwarding stub for one function of a remote extension.
// cb receives the remote return value.
type Func func(args []any, cb func(any, error))

// API is the local handle for a remote extension.
// Its functions are built from the names the remote side declared and forward whether or not the extension is ready yet.
type API struct {
	name  string
	names []string
	funcs map[string]Func

	ready   bool
	readyFn listeners[struct{}]
}

func (a *API) Name() string { return a.name }

// Functions returns the declared function names in declaration order.
func (a *API) Functions() []string {
	return append([]string(nil), a.names...)
}

func (a *API) Func(name string) (Func, bool) {
	f, ok := a.funcs[name]
	return f, ok
}

// Call invokes the declared function fn. Calling a name the extension did not declare returns ErrUnknownFunction.
func (a *API) Call(fn string, args []any, cb func(any, error)) error {
	f, ok := a.funcs[fn]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownFunction, a.name, fn)
	}
	f(args, cb)
	return nil
}

// Ready reports whether the remote side has reported the extension as installed.
func (a *API) Ready() bool { return a.ready }

// OnReady registers fn to run once when the extension becomes ready.
// If it already is, fn runs immediately.
func (a *API) OnReady(fn func()) {
	if a.ready {
		fn()
		return
	}
	a.readyFn.add(noArg(fn))
}

func (a *API) markReady() {
	if a.ready {
		return
	}
	a.ready = true
	a.readyFn.emit(struct{}{})
	a.readyFn.reset()
}

type apiRegistry struct {
	log  *zap.SugaredLogger
	t    Transport
	apis map[string]*API
}

func newAPIRegistry(log *zap.SugaredLogger, t Transport) *apiRegistry {
	return &apiRegistry{
		log:  log,
		t:    t,
		apis: map[string]*API{},
	}
}

func (r *apiRegistry) create(tok APIToken) *API {
	a := &API{
		name:  tok.Name,
		names: append([]string(nil), tok.Functions...),
		funcs: make(map[string]Func, len(tok.Functions)),
	}
	for _, fn := range tok.Functions {
		fn := fn
		a.funcs[fn] = func(args []any, cb func(any, error)) {
			if cb == nil {
				panic(fmt.Sprintf("proxy: %s.%s called without a callback", a.name, fn))
			}
			r.t.Invoke(a.name, fn, args, cb)
		}
	}
	r.apis[tok.Name] = a
	r.log.Debugw("created extension API", "Name", tok.Name, "Functions", tok.Functions)
	return a
}

func (r *apiRegistry) onReady(name string) {
	a, ok := r.apis[name]
	if !ok {
		r.log.Debugw("ready for unknown extension, ignoring", "Name", name)
		return
	}
	a.markReady()
}
