/*
Package wire provides a WebSocket transport for the proxy package, plus the peer-side endpoint that a remote implementation plugs into. It uses WebSockets for bidi messaging so it only requires an HTTP(S) server.

There are two messages in this protocol: "request" messages are sent client->server, and "response" messages are sent server->client. The schema for these messages is described in types.go. Messages are JSON text frames or CBOR binary frames, negotiated with the WebSocket subprotocol (see Codec).

The protocol proceeds as follows:

1. The client opens a WebSocket connection with the server on RPCPath, offering the subprotocol of its codec.
2. The client sends request messages. Requests that expect an answer (call, invoke, subscribe, unsubscribe, ping) carry a unique ID. Stream writes, ends, destroys, kills, watcher closes and emits are fire-and-forget and carry no ID.
3. The server answers each request that has an ID with a response message carrying the same ID, in the order the requests were received.
4. At any time the server may send response messages carrying a notification instead of an ID: exit, data, end, close, change, ready, event or drain.
5. Either side may close the WebSocket connection. The client fails every unanswered request and reports the disconnect to the proxy.Conn.

Resources are scoped to the WebSocket connection. If the connection dies the client-side proxies are orphaned and no more notifications will arrive for them.

The client runs every callback and every notification on a single goroutine, which is the execution context the proxy.Conn requires. Code outside of that goroutine must enter it with Client.Do or Client.Await.
*/
package wire
