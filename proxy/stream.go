package proxy

import (
	"go.uber.org/zap"
)

// Stream is the local handle for a remote byte stream.
type Stream struct {
	id       StreamID
	readable bool
	writable bool
	t        Transport

	data  listeners[[]byte]
	end   listeners[struct{}]
	close listeners[struct{}]
	drain listeners[struct{}]
}

func (s *Stream) ID() StreamID   { return s.id }
func (s *Stream) Readable() bool { return s.readable }
func (s *Stream) Writable() bool { return s.writable }

// Write forwards p to the remote stream.
// p is copied, so callers may reuse it as soon as Write returns.
func (s *Stream) Write(p []byte) (int, error) {
	if !s.writable {
		return 0, ErrNotWritable
	}
	s.t.Write(s.id, append([]byte(nil), p...))
	return len(p), nil
}

// End ends the remote stream, writing chunk first if it is not nil.
func (s *Stream) End(chunk []byte) error {
	if !s.writable {
		return ErrNotWritable
	}
	if chunk != nil {
		chunk = append([]byte(nil), chunk...)
	}
	s.t.End(s.id, chunk)
	return nil
}

// Destroy asks the remote side to tear down a readable stream.
func (s *Stream) Destroy() error {
	if !s.readable {
		return ErrNotReadable
	}
	s.t.Destroy(s.id)
	return nil
}

func (s *Stream) OnData(fn func(chunk []byte)) { s.data.add(fn) }
func (s *Stream) OnEnd(fn func())              { s.end.add(noArg(fn)) }
func (s *Stream) OnClose(fn func())            { s.close.add(noArg(fn)) }

// OnDrain registers fn for the transport's drain notification, which is only delivered to writable streams.
func (s *Stream) OnDrain(fn func()) { s.drain.add(noArg(fn)) }

type streamRegistry struct {
	log     *zap.SugaredLogger
	t       Transport
	streams map[StreamID]*Stream
}

func newStreamRegistry(log *zap.SugaredLogger, t Transport) *streamRegistry {
	return &streamRegistry{
		log:     log,
		t:       t,
		streams: map[StreamID]*Stream{},
	}
}

func (r *streamRegistry) create(tok StreamToken) *Stream {
	if _, ok := r.streams[tok.ID]; ok {
		r.log.Debugw("stream ID revived by remote side, replacing entry", "ID", tok.ID)
	}
	s := &Stream{
		id:       tok.ID,
		readable: tok.Readable,
		writable: tok.Writable,
		t:        r.t,
	}
	r.streams[tok.ID] = s
	r.log.Debugw("created stream", "ID", tok.ID, "Readable", tok.Readable, "Writable", tok.Writable)
	return s
}

// remove deletes the entry for s, unless the ID has since been taken by another stream.
func (r *streamRegistry) remove(s *Stream) {
	if r.streams[s.id] == s {
		delete(r.streams, s.id)
	}
}

func (r *streamRegistry) onData(id StreamID, chunk []byte) error {
	s, ok := r.streams[id]
	if !ok {
		return ErrUnknownStream
	}
	s.data.emit(chunk)
	return nil
}

func (r *streamRegistry) onEnd(id StreamID) {
	s, ok := r.streams[id]
	if !ok {
		r.log.Debugw("end for unknown stream, ignoring", "ID", id)
		return
	}
	defer r.remove(s)
	s.end.emit(struct{}{})
}

func (r *streamRegistry) onClose(id StreamID) {
	s, ok := r.streams[id]
	if !ok {
		r.log.Debugw("close for unknown stream, ignoring", "ID", id)
		return
	}
	defer r.remove(s)
	s.close.emit(struct{}{})
}

func (r *streamRegistry) onDrain() {
	var writable []*Stream
	for _, s := range r.streams {
		if s.writable {
			writable = append(writable, s)
		}
	}
	for _, s := range writable {
		s.drain.emit(struct{}{})
	}
}
