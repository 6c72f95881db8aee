package proxy

import (
	"fmt"
)

// NotificationKind identifies the shape of an inbound notification.
type NotificationKind int

const (
	NotifyExit NotificationKind = iota + 1
	NotifyData
	NotifyEnd
	NotifyClose
	NotifyChange
	NotifyReady
	NotifyEvent
	NotifyDrain
)

var notificationKindNames = map[NotificationKind]string{
	NotifyExit:   "exit",
	NotifyData:   "data",
	NotifyEnd:    "end",
	NotifyClose:  "close",
	NotifyChange: "change",
	NotifyReady:  "ready",
	NotifyEvent:  "event",
	NotifyDrain:  "drain",
}

func (k NotificationKind) String() string {
	if s, ok := notificationKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// ParseNotificationKind returns the kind named s, as produced by String.
func ParseNotificationKind(s string) (NotificationKind, bool) {
	for k, name := range notificationKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Notification is an inbound message from the transport. Which fields are set depends on Kind:
//
//	exit    PID, Code, Signal
//	data    Stream, Chunk
//	end     Stream
//	close   Stream
//	change  Watcher, Event, Filename
//	ready   Name (extension)
//	event   Name (event), Value
//	drain   nothing
type Notification struct {
	Kind NotificationKind

	Stream StreamID
	Chunk  []byte

	PID int
	// Code is nil when the process was terminated by a signal.
	Code   *int
	Signal string

	Watcher  WatcherID
	Event    string
	Filename string

	Name  string
	Value any
}

func (n Notification) target() string {
	switch n.Kind {
	case NotifyExit:
		return fmt.Sprintf("pid %d", n.PID)
	case NotifyData, NotifyEnd, NotifyClose:
		return fmt.Sprintf("stream %d", n.Stream)
	case NotifyChange:
		return fmt.Sprintf("watcher %d", n.Watcher)
	case NotifyReady:
		return fmt.Sprintf("extension %q", n.Name)
	case NotifyEvent:
		return fmt.Sprintf("event %q", n.Name)
	default:
		return "connection"
	}
}

// Dispatch routes one inbound notification to the registry that owns its identifier.
//
// Notifications for unknown streams or processes on data and exit are faults: they are logged,
// passed to the fault handler and returned as a *FaultError. Unknown identifiers on end, close,
// change and ready are ignored. A panicking handler is recovered and reported as a fault so that
// it cannot take the connection down with it.
func (c *Conn) Dispatch(n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = c.fault(n, fmt.Errorf("handler panicked: %v", r))
		}
	}()

	switch n.Kind {
	case NotifyExit:
		exit := Exit{Code: n.Code, Signal: n.Signal}
		if exitErr := c.processes.onExit(n.PID, exit); exitErr != nil {
			return c.fault(n, exitErr)
		}
	case NotifyData:
		if dataErr := c.streams.onData(n.Stream, n.Chunk); dataErr != nil {
			return c.fault(n, dataErr)
		}
	case NotifyEnd:
		c.streams.onEnd(n.Stream)
	case NotifyClose:
		c.streams.onClose(n.Stream)
	case NotifyChange:
		c.watchers.onChange(n.Watcher, Change{Event: n.Event, Filename: n.Filename})
	case NotifyReady:
		c.apis.onReady(n.Name)
	case NotifyEvent:
		c.subs.onEvent(n.Name, n.Value)
	case NotifyDrain:
		c.streams.onDrain()
	default:
		return c.fault(n, fmt.Errorf("unknown notification kind %d", int(n.Kind)))
	}
	return nil
}

func (c *Conn) fault(n Notification, err error) error {
	ferr := &FaultError{Kind: n.Kind, Target: n.target(), Err: err}
	c.log.Errorw("inbound notification fault", "Kind", n.Kind.String(), "Target", ferr.Target, "Error", err)
	if c.onFault != nil {
		c.onFault(ferr)
	}
	return ferr
}
