package proxy

// StreamID identifies a remote byte stream.
type StreamID uint64

// WatcherID identifies a remote filesystem watcher.
type WatcherID uint64

// StreamToken describes a newly created remote stream.
type StreamToken struct {
	ID       StreamID `json:"id"`
	Readable bool     `json:"readable,omitempty"`
	Writable bool     `json:"writable,omitempty"`
}

// ProcessToken describes a newly spawned remote process and its standard streams.
type ProcessToken struct {
	PID    int         `json:"pid"`
	Stdout StreamToken `json:"stdout"`
	Stderr StreamToken `json:"stderr"`
	Stdin  StreamToken `json:"stdin"`
}

// WatcherToken describes a newly created remote filesystem watcher.
type WatcherToken struct {
	ID WatcherID `json:"id"`
}

// APIToken describes a remote extension and the function names it declares.
type APIToken struct {
	Name      string   `json:"name"`
	Functions []string `json:"names"`
}

// Reply is what a transport hands back for a successful remote call.
// Any of the token fields may be set, and the transport passes through whatever else the remote side returned in Value.
type Reply struct {
	Stream  *StreamToken  `json:"stream,omitempty"`
	Process *ProcessToken `json:"process,omitempty"`
	Watcher *WatcherToken `json:"watcher,omitempty"`
	API     *APIToken     `json:"api,omitempty"`
	Value   any           `json:"value,omitempty"`
}

// Result is a Reply with every token replaced by its materialized proxy.
type Result struct {
	Stream  *Stream
	Process *Process
	Watcher *Watcher
	API     *API
	Value   any
}
