package wire

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/rproxy/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"nhooyr.io/websocket"
)

type streamWrite struct {
	id    proxy.StreamID
	chunk []byte
	end   bool
}

// scriptedHandler answers a fixed set of operations and records what the client sent.
type scriptedHandler struct {
	NopHandler

	peers  chan *Peer
	writes chan streamWrite
	kills  chan string
	emits  chan any

	mut        sync.Mutex
	subscribes []string
}

func newScriptedHandler() *scriptedHandler {
	return &scriptedHandler{
		peers:  make(chan *Peer, 1),
		writes: make(chan streamWrite, 16),
		kills:  make(chan string, 1),
		emits:  make(chan any, 1),
	}
}

func (h *scriptedHandler) Call(ctx context.Context, p *Peer, op string, args []any) (*proxy.Reply, error) {
	switch op {
	case proxy.OpSpawn:
		select {
		case h.peers <- p:
		default:
		}
		return &proxy.Reply{Process: &proxy.ProcessToken{
			PID:    42,
			Stdout: proxy.StreamToken{ID: 1, Readable: true},
			Stderr: proxy.StreamToken{ID: 2, Readable: true},
			Stdin:  proxy.StreamToken{ID: 3, Writable: true},
		}}, nil
	case proxy.OpExtend:
		name, _ := args[0].(string)
		return &proxy.Reply{
			Stream: &proxy.StreamToken{ID: 9, Writable: true},
			API:    &proxy.APIToken{Name: name, Functions: []string{"add"}},
		}, nil
	case "hangup":
		p.conn.Close(websocket.StatusGoingAway, "bye")
		return nil, errors.New("hung up")
	}
	return nil, errors.New("no such operation")
}

func (h *scriptedHandler) Invoke(ctx context.Context, p *Peer, ext, fn string, args []any) (any, error) {
	if ext != "math" || fn != "add" {
		return nil, ErrUnsupported
	}
	return 3, nil
}

func (h *scriptedHandler) Subscribe(ctx context.Context, p *Peer, name string) error {
	h.mut.Lock()
	defer h.mut.Unlock()
	h.subscribes = append(h.subscribes, name)
	return nil
}

func (h *scriptedHandler) Write(ctx context.Context, p *Peer, id proxy.StreamID, chunk []byte) {
	h.writes <- streamWrite{id: id, chunk: chunk}
}

func (h *scriptedHandler) End(ctx context.Context, p *Peer, id proxy.StreamID, chunk []byte) {
	h.writes <- streamWrite{id: id, chunk: chunk, end: true}
}

func (h *scriptedHandler) Kill(ctx context.Context, p *Peer, pid int, signal string) {
	h.kills <- signal
}

func (h *scriptedHandler) Emit(ctx context.Context, p *Peer, name string, value any) {
	h.emits <- value
}

func forEachCodec(t *testing.T, f func(t *testing.T, codec Codec)) {
	for _, codec := range codecs {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) { f(t, codec) })
	}
}

func newTestClient(t *testing.T, h Handler, opts ...Option) *Client {
	t.Helper()
	// hijacked connections outlive srv.Close, so the server does not log to t
	srv := httptest.NewServer(NewRouter(&Server{Handler: h}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := Dial(ctx, srv.URL+RPCPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSpawnStreamsAndExit(t *testing.T) {
	forEachCodec(t, func(t *testing.T, codec Codec) {
		h := newScriptedHandler()
		c := newTestClient(t, h, WithCodec(codec))
		ctx := testContext(t)

		stdout := make(chan string, 4)
		exits := make(chan proxy.Exit, 1)
		var proc *proxy.Process
		err := c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
			conn.Spawn(proxy.SpawnRequest{Command: "echo", Args: []string{"hi"}}, func(p *proxy.Process, err error) {
				if err != nil {
					done(err)
					return
				}
				proc = p
				p.Stdout.OnData(func(b []byte) { stdout <- string(b) })
				p.OnExit(func(e proxy.Exit) { exits <- e })
				done(nil)
			})
		})
		require.NoError(t, err)
		assert.Equal(t, 42, proc.PID())

		peer := <-h.peers
		code := 0
		require.NoError(t, peer.Notify(ctx, proxy.Notification{Kind: proxy.NotifyData, Stream: 1, Chunk: []byte("hi\n")}))
		require.NoError(t, peer.Notify(ctx, proxy.Notification{Kind: proxy.NotifyExit, PID: 42, Code: &code}))

		assert.Equal(t, "hi\n", <-stdout)
		assert.Equal(t, proxy.Exit{Code: &code}, <-exits)

		var stats proxy.Stats
		require.NoError(t, c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
			stats = conn.Stats()
			done(nil)
		}))
		assert.Equal(t, proxy.Stats{}, stats)
	})
}

func TestStdinWritesAreChunked(t *testing.T) {
	forEachCodec(t, func(t *testing.T, codec Codec) {
		h := newScriptedHandler()
		c := newTestClient(t, h, WithCodec(codec), WithReadLimit(3000))
		ctx := testContext(t)

		payload := bytes.Repeat([]byte("x"), 2500)
		err := c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
			conn.Spawn(proxy.SpawnRequest{Command: "cat"}, func(p *proxy.Process, err error) {
				if err != nil {
					done(err)
					return
				}
				if _, err := p.Stdin.Write(payload); err != nil {
					done(err)
					return
				}
				done(p.Stdin.End(nil))
			})
		})
		require.NoError(t, err)

		var got []byte
		var writes int
		for {
			w := <-h.writes
			assert.Equal(t, proxy.StreamID(3), w.id)
			got = append(got, w.chunk...)
			if w.end {
				break
			}
			writes++
		}
		assert.Equal(t, 3, writes)
		assert.Equal(t, payload, got)
	})
}

func TestKillAndEmitAreForwarded(t *testing.T) {
	forEachCodec(t, func(t *testing.T, codec Codec) {
		h := newScriptedHandler()
		c := newTestClient(t, h, WithCodec(codec))
		ctx := testContext(t)

		err := c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
			conn.Spawn(proxy.SpawnRequest{Command: "sleep"}, func(p *proxy.Process, err error) {
				if err != nil {
					done(err)
					return
				}
				p.Kill("")
				conn.Emit("hello", "world")
				done(nil)
			})
		})
		require.NoError(t, err)
		assert.Equal(t, proxy.DefaultSignal, <-h.kills)
		assert.Equal(t, "world", <-h.emits)
	})
}

func TestRemoteErrors(t *testing.T) {
	forEachCodec(t, func(t *testing.T, codec Codec) {
		c := newTestClient(t, newScriptedHandler(), WithCodec(codec))
		ctx := testContext(t)

		err := c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
			conn.Call("bogus", nil, func(_ *proxy.Result, err error) { done(err) })
		})
		var remoteErr *RemoteError
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, methodCall, remoteErr.Method)
		assert.Equal(t, "no such operation", remoteErr.Message)

		err = c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
			c.Invoke("math", "sub", nil, func(_ any, err error) { done(err) })
		})
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, methodInvoke, remoteErr.Method)

		err = c.Await(ctx, func(conn *proxy.Conn, done func(error)) { conn.Ping(done) })
		require.NoError(t, err)
	})
}

func TestExtensionInvoke(t *testing.T) {
	forEachCodec(t, func(t *testing.T, codec Codec) {
		c := newTestClient(t, newScriptedHandler(), WithCodec(codec))
		ctx := testContext(t)

		var got any
		err := c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
			conn.Extend("math", []string{"add"}, func(_ *proxy.Stream, api *proxy.API, err error) {
				if err != nil {
					done(err)
					return
				}
				err = api.Call("add", []any{1, 2}, func(v any, err error) {
					got = v
					done(err)
				})
				if err != nil {
					done(err)
				}
			})
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, got)
	})
}

func TestSubscriptionsAreSharedOverTheWire(t *testing.T) {
	forEachCodec(t, func(t *testing.T, codec Codec) {
		h := newScriptedHandler()
		c := newTestClient(t, h, WithCodec(codec))
		ctx := testContext(t)

		events := make(chan string, 4)
		err := c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
			conn.On("tick", func(v any) { events <- "a" }, func(error) {})
			conn.On("tick", func(v any) { events <- "b" }, done)
		})
		require.NoError(t, err)

		h.mut.Lock()
		assert.Equal(t, []string{"tick"}, h.subscribes)
		h.mut.Unlock()

		// the spawn hands over the peer so the test can push events
		require.NoError(t, c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
			conn.Spawn(proxy.SpawnRequest{Command: "true"}, func(_ *proxy.Process, err error) { done(err) })
		}))
		peer := <-h.peers
		require.NoError(t, peer.Notify(ctx, proxy.Notification{Kind: proxy.NotifyEvent, Name: "tick", Value: 1}))
		assert.Equal(t, "a", <-events)
		assert.Equal(t, "b", <-events)
	})
}

func TestDisconnectFailsPendingRequests(t *testing.T) {
	forEachCodec(t, func(t *testing.T, codec Codec) {
		c := newTestClient(t, newScriptedHandler(), WithCodec(codec))
		ctx := testContext(t)

		disconnected := make(chan error, 1)
		c.Do(func(conn *proxy.Conn) {
			conn.OnDisconnect(func(err error) { disconnected <- err })
		})

		err := c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
			conn.Call("hangup", nil, func(_ *proxy.Result, err error) { done(err) })
		})
		assert.ErrorIs(t, err, ErrDisconnected)
		assert.Error(t, <-disconnected)

		// the client keeps answering after the disconnect
		err = c.Await(ctx, func(conn *proxy.Conn, done func(error)) { conn.Ping(done) })
		assert.ErrorIs(t, err, ErrDisconnected)

		err = c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
			conn.Emit("after", nil)
			done(nil)
		})
		assert.NoError(t, err)
	})
}

func TestUnknownCodecIsRejected(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&Server{Handler: NopHandler{}}))
	defer srv.Close()

	ctx := testContext(t)
	conn, _, err := websocket.Dial(ctx, srv.URL+RPCPath, &websocket.DialOptions{Subprotocols: []string{"rproxy.xml"}})
	require.NoError(t, err)
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestWaitForServer(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&Server{Handler: NopHandler{}}))
	defer srv.Close()

	err := WaitForServer(testContext(t), srv.URL, WithWaitInterval(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = WaitForServer(ctx, "http://127.0.0.1:1", WithWaitInterval(10*time.Millisecond), WithRetryMax(0))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
