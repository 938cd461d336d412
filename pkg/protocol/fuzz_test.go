package protocol

import (
	"testing"
)

// FuzzJSONCodec checks that anything the JSON codec accepts survives a
// round trip.
func FuzzJSONCodec(f *testing.F) {
	f.Add([]byte(`{"t":2,"ref":"1","topic":"lv:abc","event":"set","payload":{"field":"text","value":"خط"}}`))
	f.Add([]byte(`{"t":0,"topic":"lv:abc","payload":{"viewport_width":1280,"dpr":2}}`))
	f.Add([]byte(`{"t":3,"ref":"s:1","topic":"lv:abc","payload":{"status":"error","response":{"name":"AbortError"}}}`))
	f.Add([]byte(`{"t":9}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`null`))
	f.Add([]byte(``))
	f.Add([]byte(`{malformed`))
	f.Add([]byte(`{"ref": 123}`))

	codec := NewJSONCodec()

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := codec.Decode(data)
		if err != nil {
			return
		}
		if msg.Type > MsgHeartbeat {
			t.Fatalf("accepted unknown type %d", msg.Type)
		}

		out, err := codec.Encode(msg)
		if err != nil {
			return
		}
		msg2, err := codec.Decode(out)
		if err != nil {
			t.Fatalf("failed to re-parse serialized message: %v", err)
		}
		if msg.Type != msg2.Type || msg.Ref != msg2.Ref || msg.Topic != msg2.Topic || msg.Event != msg2.Event {
			t.Errorf("roundtrip mismatch: %+v != %+v", msg, msg2)
		}
	})
}
