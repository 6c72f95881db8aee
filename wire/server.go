package wire

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/guseggert/rproxy/proxy"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Handler serves the remote side of a connection.
// Requests from a single connection are handled one at a time, in the order they arrive.
// Methods that return nothing are fire-and-forget; the client never learns how they went.
type Handler interface {
	Call(ctx context.Context, p *Peer, op string, args []any) (*proxy.Reply, error)
	Invoke(ctx context.Context, p *Peer, ext, fn string, args []any) (any, error)
	Subscribe(ctx context.Context, p *Peer, name string) error
	Unsubscribe(ctx context.Context, p *Peer, name string) error

	Write(ctx context.Context, p *Peer, id proxy.StreamID, chunk []byte)
	End(ctx context.Context, p *Peer, id proxy.StreamID, chunk []byte)
	Destroy(ctx context.Context, p *Peer, id proxy.StreamID)
	Kill(ctx context.Context, p *Peer, pid int, signal string)
	CloseWatcher(ctx context.Context, p *Peer, id proxy.WatcherID)
	Emit(ctx context.Context, p *Peer, name string, value any)
}

// NopHandler rejects every request with ErrUnsupported and ignores everything else.
// Embed it to implement only part of Handler.
type NopHandler struct{}

func (NopHandler) Call(context.Context, *Peer, string, []any) (*proxy.Reply, error) {
	return nil, ErrUnsupported
}

func (NopHandler) Invoke(context.Context, *Peer, string, string, []any) (any, error) {
	return nil, ErrUnsupported
}

func (NopHandler) Subscribe(context.Context, *Peer, string) error   { return ErrUnsupported }
func (NopHandler) Unsubscribe(context.Context, *Peer, string) error { return ErrUnsupported }

func (NopHandler) Write(context.Context, *Peer, proxy.StreamID, []byte)   {}
func (NopHandler) End(context.Context, *Peer, proxy.StreamID, []byte)     {}
func (NopHandler) Destroy(context.Context, *Peer, proxy.StreamID)         {}
func (NopHandler) Kill(context.Context, *Peer, int, string)               {}
func (NopHandler) CloseWatcher(context.Context, *Peer, proxy.WatcherID)   {}
func (NopHandler) Emit(context.Context, *Peer, string, any)               {}

type Server struct {
	Handler Handler
	Log     *zap.SugaredLogger
	// ReadLimit defaults to DefaultReadLimit.
	ReadLimit int64
}

func (s *Server) log() *zap.SugaredLogger {
	if s.Log == nil {
		return zap.NewNop().Sugar()
	}
	return s.Log
}

func (s *Server) readLimit() int64 {
	if s.ReadLimit == 0 {
		return DefaultReadLimit
	}
	return s.ReadLimit
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := s.log()
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:    codecNames(),
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	codec, ok := codecByName(wsConn.Subprotocol())
	if !ok {
		log.Debugf("client offered no known codec (got %q)", wsConn.Subprotocol())
		wsConn.Close(websocket.StatusPolicyViolation, fmt.Sprintf("supported codecs: %v", codecNames()))
		return
	}
	wsConn.SetReadLimit(s.readLimit())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	p := &Peer{
		ID:        uuid.NewString(),
		conn:      wsConn,
		codec:     codec,
		ctx:       ctx,
		readLimit: s.readLimit(),
	}
	p.log = log.With("PeerID", p.ID)
	p.log.Debugw("accepted WebSocket conn", "Codec", codec.Name())
	p.serve(s.Handler)
}

// Peer is one connected client, as seen by a Handler.
type Peer struct {
	ID string

	log       *zap.SugaredLogger
	conn      *websocket.Conn
	codec     Codec
	ctx       context.Context
	readLimit int64

	writeMut sync.Mutex
}

// Context is done once the peer disconnects.
func (p *Peer) Context() context.Context { return p.ctx }

// Notify sends a notification to the peer. It is safe to call from any goroutine.
// Data notifications are split so that each message fits the peer's read limit.
func (p *Peer) Notify(ctx context.Context, n proxy.Notification) error {
	if n.Kind == proxy.NotifyData {
		writeLimit := int(p.readLimit / 3)
		for len(n.Chunk) > writeLimit {
			part := n
			part.Chunk = n.Chunk[:writeLimit]
			if err := p.write(ctx, responseMessage{Notify: newNotifyMessage(part)}); err != nil {
				return err
			}
			n.Chunk = n.Chunk[writeLimit:]
		}
	}
	return p.write(ctx, responseMessage{Notify: newNotifyMessage(n)})
}

func (p *Peer) write(ctx context.Context, msg responseMessage) error {
	p.writeMut.Lock()
	defer p.writeMut.Unlock()
	err := p.codec.Write(ctx, p.conn, msg)
	if err != nil {
		return fmt.Errorf("writing %s message: %w", p.codec.Name(), err)
	}
	return nil
}

func (p *Peer) serve(h Handler) {
	for {
		var msg requestMessage
		err := p.codec.Read(p.ctx, p.conn, &msg)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			p.log.Debug("got normal closure from client, wrapping up")
			return
		}
		if err != nil {
			p.log.Debugf("message reader got error: %s", err)
			p.conn.Close(websocket.StatusInternalError, "read error")
			return
		}
		resp, respond := p.handle(h, msg)
		if !respond {
			continue
		}
		resp.ID = msg.ID
		if err := p.write(p.ctx, resp); err != nil {
			p.log.Debugf("error writing response: %s", err)
			p.conn.Close(websocket.StatusInternalError, "write error")
			return
		}
	}
}

// handle runs a single request. It reports whether the request expects a response.
func (p *Peer) handle(h Handler, msg requestMessage) (resp responseMessage, respond bool) {
	ctx := p.ctx
	errResp := func(err error) responseMessage {
		if err != nil {
			return responseMessage{Err: err.Error()}
		}
		return responseMessage{}
	}

	switch msg.Method {
	case methodCall:
		reply, err := h.Call(ctx, p, msg.Op, msg.Args)
		if err != nil {
			return errResp(err), true
		}
		return responseMessage{Reply: reply}, true
	case methodInvoke:
		v, err := h.Invoke(ctx, p, msg.Name, msg.Func, msg.Args)
		if err != nil {
			return errResp(err), true
		}
		return responseMessage{Value: v}, true
	case methodSubscribe:
		return errResp(h.Subscribe(ctx, p, msg.Name)), true
	case methodUnsubscribe:
		return errResp(h.Unsubscribe(ctx, p, msg.Name)), true
	case methodPing:
		return responseMessage{}, true
	case methodWrite:
		h.Write(ctx, p, msg.Stream, msg.Chunk)
	case methodEnd:
		h.End(ctx, p, msg.Stream, msg.Chunk)
	case methodDestroy:
		h.Destroy(ctx, p, msg.Stream)
	case methodKill:
		h.Kill(ctx, p, msg.PID, msg.Signal)
	case methodClose:
		h.CloseWatcher(ctx, p, msg.Watcher)
	case methodEmit:
		h.Emit(ctx, p, msg.Name, msg.Value)
	default:
		p.log.Debugf("unknown method %q", msg.Method)
		if msg.ID != "" {
			return errResp(fmt.Errorf("%w method %q", ErrUnsupported, msg.Method)), true
		}
	}
	return responseMessage{}, false
}
