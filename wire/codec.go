package wire

import (
	"context"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Codec reads and writes protocol messages on a WebSocket connection.
// Name is used as the WebSocket subprotocol, so both ends agree on the codec during the handshake.
type Codec interface {
	Name() string
	Read(ctx context.Context, conn *websocket.Conn, v any) error
	Write(ctx context.Context, conn *websocket.Conn, v any) error
}

var (
	// JSON sends messages as JSON text frames. It is the default.
	JSON Codec = jsonCodec{}
	// CBOR sends messages as CBOR binary frames, which keeps stream chunks as raw bytes.
	CBOR Codec = cborCodec{}

	codecs = []Codec{JSON, CBOR}
)

func codecByName(name string) (Codec, bool) {
	for _, c := range codecs {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

func codecNames() []string {
	names := make([]string, len(codecs))
	for i, c := range codecs {
		names[i] = c.Name()
	}
	return names
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "rproxy.json" }

func (jsonCodec) Read(ctx context.Context, conn *websocket.Conn, v any) error {
	return wsjson.Read(ctx, conn, v)
}

func (jsonCodec) Write(ctx context.Context, conn *websocket.Conn, v any) error {
	return wsjson.Write(ctx, conn, v)
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		// values and args decode into the same shapes the JSON codec produces
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string { return "rproxy.cbor" }

func (cborCodec) Read(ctx context.Context, conn *websocket.Conn, v any) error {
	typ, b, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	if typ != websocket.MessageBinary {
		conn.Close(websocket.StatusUnsupportedData, "expected binary message")
		return fmt.Errorf("expected binary message for CBOR but got: %v", typ)
	}
	if err := cborDec.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to unmarshal CBOR: %w", err)
	}
	return nil
}

func (cborCodec) Write(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := cborEnc.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal CBOR: %w", err)
	}
	return conn.Write(ctx, websocket.MessageBinary, b)
}
