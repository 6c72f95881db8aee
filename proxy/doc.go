/*
Package proxy turns a bidirectional remote-call channel into typed local handles for remote resources: byte streams, child processes, filesystem watchers, and dynamically installed extension APIs.

A remote resource only exists locally as an identifier carried in messages. A Conn keeps one registry per resource kind, keyed by that identifier:

1. When a remote operation succeeds, the tokens in its reply are turned into registry entries and the caller receives typed proxies (Stream, Process, Watcher, API) instead of tokens.
2. Inbound notifications from the transport are routed by identifier to the owning proxy, which re-emits them to its local handlers.
3. Terminal notifications (end, close, exit) remove the entry exactly once. A process exit also removes the process's three streams.
4. Event subscriptions are shared per event name, so any number of local handlers cost exactly one wire-level subscribe and one unsubscribe.

A Conn is not goroutine-safe. All calls into it, all transport callbacks and all calls to Dispatch must happen on one serialized execution context. The wire package provides such a context for its WebSocket transport.

The Extend operation provisions an extension in two steps: the reply carries a writable source stream and an API whose functions already forward invocations. The caller writes the extension source into the stream and ends it. The remote side reports each installed function with a "ready" notification for the extension name, after which invoking the API is meaningful.
*/
package proxy
