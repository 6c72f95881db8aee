package wire

import (
	"fmt"

	"github.com/guseggert/rproxy/proxy"
)

const (
	methodCall        = "call"
	methodWrite       = "write"
	methodEnd         = "end"
	methodDestroy     = "destroy"
	methodKill        = "kill"
	methodClose       = "close"
	methodInvoke      = "invoke"
	methodSubscribe   = "subscribe"
	methodUnsubscribe = "unsubscribe"
	methodEmit        = "emit"
	methodPing        = "ping"
)

// requestMessage is a request message.
// Only requests that expect a response have an ID.
// Which of the remaining fields are set depends on the method.
type requestMessage struct {
	ID     string `json:"id,omitempty"`
	Method string `json:"method"`

	// Op and Args are set for "call", Args also for "invoke".
	Op   string `json:"op,omitempty"`
	Args []any  `json:"args,omitempty"`

	Stream proxy.StreamID `json:"stream,omitempty"`
	Chunk  []byte         `json:"chunk,omitempty"`

	PID    int    `json:"pid,omitempty"`
	Signal string `json:"signal,omitempty"`

	Watcher proxy.WatcherID `json:"watcher,omitempty"`

	// Name is the extension name for "invoke" and the event name for "subscribe", "unsubscribe" and "emit".
	Name  string `json:"name,omitempty"`
	Func  string `json:"func,omitempty"`
	Value any    `json:"value,omitempty"`
}

// responseMessage is a response message.
// It either answers a request (ID is set) or carries a notification.
type responseMessage struct {
	ID  string `json:"id,omitempty"`
	Err string `json:"err,omitempty"`

	// Reply is the result of a "call".
	Reply *proxy.Reply `json:"reply,omitempty"`
	// Value is the result of an "invoke".
	Value any `json:"value,omitempty"`

	Notify *notifyMessage `json:"notify,omitempty"`
}

type notifyMessage struct {
	Kind string `json:"kind"`

	Stream proxy.StreamID `json:"stream,omitempty"`
	Chunk  []byte         `json:"chunk,omitempty"`

	PID int `json:"pid,omitempty"`
	// Code is absent when the process was terminated by a signal.
	Code   *int   `json:"code,omitempty"`
	Signal string `json:"signal,omitempty"`

	Watcher  proxy.WatcherID `json:"watcher,omitempty"`
	Event    string          `json:"event,omitempty"`
	Filename string          `json:"filename,omitempty"`

	Name  string `json:"name,omitempty"`
	Value any    `json:"value,omitempty"`
}

func newNotifyMessage(n proxy.Notification) *notifyMessage {
	return &notifyMessage{
		Kind:     n.Kind.String(),
		Stream:   n.Stream,
		Chunk:    n.Chunk,
		PID:      n.PID,
		Code:     n.Code,
		Signal:   n.Signal,
		Watcher:  n.Watcher,
		Event:    n.Event,
		Filename: n.Filename,
		Name:     n.Name,
		Value:    n.Value,
	}
}

func (m *notifyMessage) notification() (proxy.Notification, error) {
	kind, ok := proxy.ParseNotificationKind(m.Kind)
	if !ok {
		return proxy.Notification{}, fmt.Errorf("unknown notification kind %q", m.Kind)
	}
	return proxy.Notification{
		Kind:     kind,
		Stream:   m.Stream,
		Chunk:    m.Chunk,
		PID:      m.PID,
		Code:     m.Code,
		Signal:   m.Signal,
		Watcher:  m.Watcher,
		Event:    m.Event,
		Filename: m.Filename,
		Name:     m.Name,
		Value:    m.Value,
	}, nil
}
