package proxy

type call struct {
	op   string
	args []any
	cb   func(*Reply, error)
}

type write struct {
	id    StreamID
	chunk []byte
	end   bool
}

type kill struct {
	pid    int
	signal string
}

type invoke struct {
	ext  string
	fn   string
	args []any
	cb   func(any, error)
}

type ack struct {
	name string
	cb   func(error)
}

type emit struct {
	name  string
	value any
}

// fakeTransport records every primitive the proxy layer calls and lets tests answer callbacks by hand.
type fakeTransport struct {
	calls        []call
	writes       []write
	destroyed    []StreamID
	kills        []kill
	closed       []WatcherID
	invokes      []invoke
	subscribes   []ack
	unsubscribes []ack
	emits        []emit
	pings        []func(error)
}

func (f *fakeTransport) Call(op string, args []any, cb func(*Reply, error)) {
	f.calls = append(f.calls, call{op: op, args: args, cb: cb})
}

func (f *fakeTransport) Write(id StreamID, chunk []byte) {
	f.writes = append(f.writes, write{id: id, chunk: chunk})
}

func (f *fakeTransport) End(id StreamID, chunk []byte) {
	f.writes = append(f.writes, write{id: id, chunk: chunk, end: true})
}

func (f *fakeTransport) Destroy(id StreamID) { f.destroyed = append(f.destroyed, id) }

func (f *fakeTransport) Kill(pid int, signal string) {
	f.kills = append(f.kills, kill{pid: pid, signal: signal})
}

func (f *fakeTransport) CloseWatcher(id WatcherID) { f.closed = append(f.closed, id) }

func (f *fakeTransport) Invoke(ext, fn string, args []any, cb func(any, error)) {
	f.invokes = append(f.invokes, invoke{ext: ext, fn: fn, args: args, cb: cb})
}

func (f *fakeTransport) Subscribe(name string, cb func(error)) {
	f.subscribes = append(f.subscribes, ack{name: name, cb: cb})
}

func (f *fakeTransport) Unsubscribe(name string, cb func(error)) {
	f.unsubscribes = append(f.unsubscribes, ack{name: name, cb: cb})
}

func (f *fakeTransport) Emit(name string, value any) {
	f.emits = append(f.emits, emit{name: name, value: value})
}

func (f *fakeTransport) Ping(cb func(error)) { f.pings = append(f.pings, cb) }

// reply answers the most recent call.
func (f *fakeTransport) reply(r *Reply, err error) {
	f.calls[len(f.calls)-1].cb(r, err)
}

func intPtr(i int) *int { return &i }

func spawnToken(pid int, base StreamID) *Reply {
	return &Reply{Process: &ProcessToken{
		PID:    pid,
		Stdout: StreamToken{ID: base, Readable: true},
		Stderr: StreamToken{ID: base + 1, Readable: true},
		Stdin:  StreamToken{ID: base + 2, Writable: true},
	}}
}
