package proxy

import (
	"go.uber.org/zap"
)

// DefaultSignal is sent by Kill when no signal is given.
const DefaultSignal = "SIGTERM"

// Exit is the termination status of a remote process.
// Code is nil when the process was terminated by Signal.
type Exit struct {
	Code   *int
	Signal string
}

// Process is the local handle for a remote child process.
// Its three streams live exactly as long as the process entry and are torn down together on exit.
type Process struct {
	pid    int
	Stdout *Stream
	Stderr *Stream
	Stdin  *Stream

	t    Transport
	exit listeners[Exit]
}

func (p *Process) PID() int { return p.pid }

// Kill forwards signal to the remote process.
func (p *Process) Kill(signal string) {
	if signal == "" {
		signal = DefaultSignal
	}
	p.t.Kill(p.pid, signal)
}

// OnExit registers fn for the process's exit, which fires for normal and abnormal termination alike.
func (p *Process) OnExit(fn func(Exit)) { p.exit.add(fn) }

type processRegistry struct {
	log       *zap.SugaredLogger
	t         Transport
	streams   *streamRegistry
	processes map[int]*Process
}

func newProcessRegistry(log *zap.SugaredLogger, t Transport, streams *streamRegistry) *processRegistry {
	return &processRegistry{
		log:       log,
		t:         t,
		streams:   streams,
		processes: map[int]*Process{},
	}
}

func (r *processRegistry) create(tok ProcessToken) *Process {
	if _, ok := r.processes[tok.PID]; ok {
		r.log.Debugw("pid revived by remote side, replacing entry", "PID", tok.PID)
	}
	p := &Process{
		pid:    tok.PID,
		Stdout: r.streams.create(tok.Stdout),
		Stderr: r.streams.create(tok.Stderr),
		Stdin:  r.streams.create(tok.Stdin),
		t:      r.t,
	}
	r.processes[tok.PID] = p
	r.log.Debugw("created process", "PID", tok.PID)
	return p
}

func (r *processRegistry) onExit(pid int, exit Exit) error {
	p, ok := r.processes[pid]
	if !ok {
		return ErrUnknownProcess
	}
	r.log.Debugw("process exited", "PID", pid, "Code", exit.Code, "Signal", exit.Signal)
	defer func() {
		if r.processes[pid] == p {
			delete(r.processes, pid)
		}
		r.streams.remove(p.Stdout)
		r.streams.remove(p.Stderr)
		r.streams.remove(p.Stdin)
	}()
	p.exit.emit(exit)
	return nil
}
