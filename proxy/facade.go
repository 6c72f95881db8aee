package proxy

import (
	"fmt"
)

// Remote operations with typed wrappers on Conn. Call accepts any other operation name as well.
const (
	OpSpawn             = "spawn"
	OpExec              = "exec"
	OpCreateReadStream  = "createReadStream"
	OpCreateWriteStream = "createWriteStream"
	OpWatch             = "watch"
	OpExtend            = "extend"
)

type SpawnRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	WD      string   `json:"cwd,omitempty"`
}

// ExecRequest runs Command through the remote shell.
type ExecRequest struct {
	Command string   `json:"command"`
	Env     []string `json:"env,omitempty"`
	WD      string   `json:"cwd,omitempty"`
}

type WatchOptions struct {
	Recursive bool `json:"recursive,omitempty"`
}

type extendOptions struct {
	Names []string `json:"names"`
}

// Call invokes the remote operation op.
//
// A nil cb panics before anything is sent. If the call fails, cb gets the error and no proxies are created.
// Otherwise every token in the reply is materialized into its registry and cb gets the proxies.
func (c *Conn) Call(op string, args []any, cb func(*Result, error)) {
	if cb == nil {
		panic(fmt.Sprintf("proxy: %s called without a callback", op))
	}
	c.log.Debugw("calling remote operation", "Op", op)
	c.transport.Call(op, args, func(reply *Reply, err error) {
		if err != nil {
			c.log.Debugw("remote operation failed", "Op", op, "Error", err)
			cb(nil, err)
			return
		}
		cb(c.materialize(reply), nil)
	})
}

func (c *Conn) materialize(reply *Reply) *Result {
	res := &Result{}
	if reply == nil {
		return res
	}
	res.Value = reply.Value
	if reply.Stream != nil {
		res.Stream = c.streams.create(*reply.Stream)
	}
	if reply.Process != nil {
		res.Process = c.processes.create(*reply.Process)
	}
	if reply.Watcher != nil {
		res.Watcher = c.watchers.create(*reply.Watcher)
	}
	if reply.API != nil {
		res.API = c.apis.create(*reply.API)
	}
	return res
}

func (c *Conn) Spawn(req SpawnRequest, cb func(*Process, error)) {
	c.callProcess(OpSpawn, req, cb)
}

func (c *Conn) Exec(req ExecRequest, cb func(*Process, error)) {
	c.callProcess(OpExec, req, cb)
}

func (c *Conn) callProcess(op string, req any, cb func(*Process, error)) {
	if cb == nil {
		panic(fmt.Sprintf("proxy: %s called without a callback", op))
	}
	c.Call(op, []any{req}, func(res *Result, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		if res.Process == nil {
			cb(nil, fmt.Errorf("%s: %w", op, ErrMissingToken))
			return
		}
		cb(res.Process, nil)
	})
}

// ReadStream opens a readable stream of the remote file at path.
func (c *Conn) ReadStream(path string, cb func(*Stream, error)) {
	c.callStream(OpCreateReadStream, path, cb)
}

// WriteStream opens a writable stream to the remote file at path.
func (c *Conn) WriteStream(path string, cb func(*Stream, error)) {
	c.callStream(OpCreateWriteStream, path, cb)
}

func (c *Conn) callStream(op, path string, cb func(*Stream, error)) {
	if cb == nil {
		panic(fmt.Sprintf("proxy: %s called without a callback", op))
	}
	c.Call(op, []any{path}, func(res *Result, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		if res.Stream == nil {
			cb(nil, fmt.Errorf("%s: %w", op, ErrMissingToken))
			return
		}
		cb(res.Stream, nil)
	})
}

func (c *Conn) Watch(path string, opts WatchOptions, cb func(*Watcher, error)) {
	if cb == nil {
		panic("proxy: watch called without a callback")
	}
	c.Call(OpWatch, []any{path, opts}, func(res *Result, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		if res.Watcher == nil {
			cb(nil, fmt.Errorf("%s: %w", OpWatch, ErrMissingToken))
			return
		}
		cb(res.Watcher, nil)
	})
}

// Extend asks the remote side to provision the extension name declaring functions.
// cb gets the writable stream the extension source must be written to, and the API whose functions forward to it.
func (c *Conn) Extend(name string, functions []string, cb func(*Stream, *API, error)) {
	if cb == nil {
		panic("proxy: extend called without a callback")
	}
	c.Call(OpExtend, []any{name, extendOptions{Names: functions}}, func(res *Result, err error) {
		if err != nil {
			cb(nil, nil, err)
			return
		}
		if res.Stream == nil || res.API == nil {
			cb(nil, nil, fmt.Errorf("%s: %w", OpExtend, ErrMissingToken))
			return
		}
		cb(res.Stream, res.API, nil)
	})
}
