package wire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/rproxy/proxy"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	// DefaultReadLimit is the largest message either side reads. Stream chunks are split to fit.
	DefaultReadLimit = 32768

	outboxSize = 64
)

// Client is a proxy.Transport over a WebSocket connection.
// It owns the proxy.Conn that uses it and the goroutine that Conn runs on.
type Client struct {
	log   *zap.SugaredLogger
	id    string
	conn  *websocket.Conn
	codec Codec
	proxy *proxy.Conn

	httpClient   *http.Client
	retryMax     int
	readLimit    int64
	waitInterval time.Duration
	proxyOpts    []proxy.Option

	// ctx ends with the connection, the loop keeps running until Close
	ctx      context.Context
	cancel   func()
	loop     *loop
	stopLoop func()
	outbox chan requestMessage

	pendingMut sync.Mutex
	pending    map[string]func(responseMessage, error)
	closed     bool

	wg            sync.WaitGroup
	closeConnOnce sync.Once
}

type Option func(c *Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = l.Named("wire").Sugar()
	}
}

// WithCodec sets the codec offered to the server. The default is JSON.
func WithCodec(codec Codec) Option {
	return func(c *Client) {
		c.codec = codec
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake and heartbeats,
// replacing the default retrying client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

func WithRetryMax(n int) Option {
	return func(c *Client) {
		c.retryMax = n
	}
}

// WithReadLimit sets the read limit on the connection. It must match the server's, since it also bounds outgoing stream chunks.
func WithReadLimit(n int64) Option {
	return func(c *Client) {
		c.readLimit = n
	}
}

func WithWaitInterval(d time.Duration) Option {
	return func(c *Client) {
		c.waitInterval = d
	}
}

// WithProxyOptions passes options through to the proxy.Conn the client creates.
func WithProxyOptions(opts ...proxy.Option) Option {
	return func(c *Client) {
		c.proxyOpts = append(c.proxyOpts, opts...)
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func newClient(opts []Option) *Client {
	c := &Client{
		log:          zap.NewNop().Sugar(),
		id:           uuid.NewString(),
		codec:        JSON,
		retryMax:     10,
		readLimit:    DefaultReadLimit,
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("ConnID", c.id)
	if c.httpClient == nil {
		retryClient := retryablehttp.NewClient()
		retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
			return 10 * time.Millisecond
		}
		retryClient.RetryMax = c.retryMax
		retryClient.Logger = &logAdapter{SugaredLogger: c.log}
		c.httpClient = retryClient.StandardClient()
	}
	return c
}

// Dial opens a WebSocket connection to the RPC endpoint at url and returns a running client.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := newClient(opts)

	c.log.Debugw("dialing WebSocket", "URL", url, "Codec", c.codec.Name())
	wsConn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:      c.httpClient,
		Subprotocols:    []string{c.codec.Name()},
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing WebSocket conn: %w", err)
	}
	if sub := wsConn.Subprotocol(); sub != c.codec.Name() {
		wsConn.Close(websocket.StatusProtocolError, "codec not negotiated")
		return nil, fmt.Errorf("server did not accept codec %q (got %q)", c.codec.Name(), sub)
	}
	wsConn.SetReadLimit(c.readLimit)

	c.conn = wsConn
	c.ctx, c.cancel = context.WithCancel(context.Background())
	loopCtx, stopLoop := context.WithCancel(context.Background())
	c.loop = newLoop()
	c.stopLoop = stopLoop
	c.outbox = make(chan requestMessage, outboxSize)
	c.pending = map[string]func(responseMessage, error){}

	proxyOpts := append([]proxy.Option{proxy.WithLogger(c.log.Desugar())}, c.proxyOpts...)
	c.proxy = proxy.NewConn(c, proxyOpts...)

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.loop.run(loopCtx)
	}()
	go c.readMessages()
	go c.writeMessages()
	return c, nil
}

// Do runs f on the client's execution context, where it may use the proxy.Conn freely.
func (c *Client) Do(f func(conn *proxy.Conn)) {
	c.loop.do(func() { f(c.proxy) })
}

// Await runs f on the client's execution context and blocks until f calls done, or ctx is done.
func (c *Client) Await(ctx context.Context, f func(conn *proxy.Conn, done func(error))) error {
	errCh := make(chan error, 1)
	var once sync.Once
	done := func(err error) {
		once.Do(func() { errCh <- err })
	}
	c.Do(func(conn *proxy.Conn) { f(conn, done) })
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the connection and waits for the client's goroutines to exit.
// It must not be called from the client's execution context, and the client must not be used afterwards.
func (c *Client) Close() error {
	c.close(websocket.StatusNormalClosure, "")
	c.cancel()
	c.stopLoop()
	c.wg.Wait()
	return nil
}

func (c *Client) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	c.closeConnOnce.Do(func() {
		err := c.conn.Close(code, reason)
		if err != nil {
			c.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (c *Client) readMessages() {
	defer c.wg.Done()
	for {
		var msg responseMessage
		err := c.codec.Read(c.ctx, c.conn, &msg)
		if err != nil {
			if isClosed(err) {
				c.log.Debug("connection closed")
			} else {
				c.log.Debugf("message reader got error: %s", err)
			}
			c.fail(err)
			return
		}

		if msg.Notify != nil {
			n, err := msg.Notify.notification()
			if err != nil {
				c.log.Debugf("dropping notification: %s", err)
				continue
			}
			c.loop.do(func() {
				// faults are already logged and reported by the proxy
				_ = c.proxy.Dispatch(n)
			})
			continue
		}

		c.pendingMut.Lock()
		onResp, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.pendingMut.Unlock()
		if !ok {
			c.log.Debugw("response for unknown request, ignoring", "ID", msg.ID)
			continue
		}
		c.loop.do(func() { onResp(msg, nil) })
	}
}

func (c *Client) writeMessages() {
	defer c.wg.Done()
	for {
		select {
		case msg := <-c.outbox:
			err := c.codec.Write(c.ctx, c.conn, msg)
			if err != nil {
				c.log.Debugf("message writer got error: %s", err)
				c.close(websocket.StatusInternalError, err.Error())
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// fail fails every pending request and reports the disconnect, then stops the reader and writer.
// The loop stays up so that later requests still get ErrDisconnected.
func (c *Client) fail(cause error) {
	c.pendingMut.Lock()
	pending := c.pending
	c.pending = map[string]func(responseMessage, error){}
	c.closed = true
	c.pendingMut.Unlock()

	err := fmt.Errorf("%w: %s", ErrDisconnected, cause)
	c.loop.do(func() {
		for _, onResp := range pending {
			onResp(responseMessage{}, err)
		}
		c.proxy.Disconnected(cause)
	})
	c.cancel()
}

func (c *Client) send(msg requestMessage) {
	select {
	case c.outbox <- msg:
	case <-c.ctx.Done():
		c.log.Debugw("client closed, dropping request", "Method", msg.Method)
	}
}

// request sends msg with a fresh ID and arranges for onResp to run on the loop with its response.
func (c *Client) request(msg requestMessage, onResp func(responseMessage, error)) {
	msg.ID = uuid.NewString()

	c.pendingMut.Lock()
	if c.closed {
		c.pendingMut.Unlock()
		c.loop.do(func() { onResp(responseMessage{}, ErrDisconnected) })
		return
	}
	c.pending[msg.ID] = func(resp responseMessage, err error) {
		if err == nil && resp.Err != "" {
			err = &RemoteError{Method: msg.Method, Message: resp.Err}
		}
		onResp(resp, err)
	}
	c.pendingMut.Unlock()

	c.send(msg)
}

// writeChunked splits chunk into messages that fit within the read limit.
// The limit is an estimate of the final encoded size, base64 being the worst case.
func (c *Client) writeChunked(id proxy.StreamID, chunk []byte, end bool) {
	writeLimit := int(c.readLimit / 3)
	for len(chunk) > writeLimit {
		c.send(requestMessage{Method: methodWrite, Stream: id, Chunk: chunk[:writeLimit]})
		chunk = chunk[writeLimit:]
	}
	method := methodWrite
	if end {
		method = methodEnd
	}
	if len(chunk) > 0 || end {
		c.send(requestMessage{Method: method, Stream: id, Chunk: chunk})
	}
}

// Conn returns the proxy.Conn driven by this client. It may only be used from the client's execution context.
func (c *Client) Conn() *proxy.Conn { return c.proxy }

func (c *Client) Call(op string, args []any, cb func(*proxy.Reply, error)) {
	c.request(requestMessage{Method: methodCall, Op: op, Args: args}, func(resp responseMessage, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		cb(resp.Reply, nil)
	})
}

func (c *Client) Write(id proxy.StreamID, chunk []byte) {
	c.writeChunked(id, chunk, false)
}

func (c *Client) End(id proxy.StreamID, chunk []byte) {
	c.writeChunked(id, chunk, true)
}

func (c *Client) Destroy(id proxy.StreamID) {
	c.send(requestMessage{Method: methodDestroy, Stream: id})
}

func (c *Client) Kill(pid int, signal string) {
	c.send(requestMessage{Method: methodKill, PID: pid, Signal: signal})
}

func (c *Client) CloseWatcher(id proxy.WatcherID) {
	c.send(requestMessage{Method: methodClose, Watcher: id})
}

func (c *Client) Invoke(ext, fn string, args []any, cb func(any, error)) {
	c.request(requestMessage{Method: methodInvoke, Name: ext, Func: fn, Args: args}, func(resp responseMessage, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		cb(resp.Value, nil)
	})
}

func (c *Client) Subscribe(name string, cb func(error)) {
	c.request(requestMessage{Method: methodSubscribe, Name: name}, func(_ responseMessage, err error) { cb(err) })
}

func (c *Client) Unsubscribe(name string, cb func(error)) {
	c.request(requestMessage{Method: methodUnsubscribe, Name: name}, func(_ responseMessage, err error) { cb(err) })
}

func (c *Client) Emit(name string, value any) {
	c.send(requestMessage{Method: methodEmit, Name: name, Value: value})
}

func (c *Client) Ping(cb func(error)) {
	c.request(requestMessage{Method: methodPing}, func(_ responseMessage, err error) { cb(err) })
}

// WaitForServer polls the heartbeat endpoint under baseURL until it answers or ctx is done.
func WaitForServer(ctx context.Context, baseURL string, opts ...Option) error {
	c := newClient(opts)
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := sendHeartbeat(ctx, c.httpClient, baseURL+HeartbeatPath)
			if err == nil {
				c.log.Debug("heartbeat succeeded, done waiting for server")
				return nil
			}
			c.log.Debugf("got heartbeat error: %s", err)
		}
	}
}

func sendHeartbeat(ctx context.Context, httpClient *http.Client, u string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building heartbeat request: %w", err)
	}
	req.Close = true

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected heartbeat status code %d", resp.StatusCode)
	}
	return nil
}

var _ proxy.Transport = (*Client)(nil)

// isClosed reports whether err means the connection was closed on purpose.
func isClosed(err error) bool {
	return errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure
}
