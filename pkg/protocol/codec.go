package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrInvalidMessage = errors.New("invalid message format")
	ErrUnknownCodec   = errors.New("unknown codec type")
)

// Codec turns messages into frames and back. The name is what clients pass
// in the vsn query parameter.
type Codec interface {
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
	Name() string
	// Binary reports whether frames must be sent as binary.
	Binary() bool
}

type codec struct {
	name      string
	binary    bool
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

func (c codec) Name() string { return c.name }
func (c codec) Binary() bool { return c.binary }

func (c codec) Encode(msg *Message) ([]byte, error) {
	return c.marshal(msg)
}

func (c codec) Decode(data []byte) (*Message, error) {
	var msg Message
	if err := c.unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Type > MsgHeartbeat {
		return nil, fmt.Errorf("%w: type %d", ErrInvalidMessage, msg.Type)
	}
	return &msg, nil
}

// NewJSONCodec returns the text codec the browser client speaks.
func NewJSONCodec() Codec {
	return codec{name: "json", marshal: json.Marshal, unmarshal: json.Unmarshal}
}

// NewMsgPackCodec returns the binary codec. Scripted clients use it to keep
// image payloads compact.
func NewMsgPackCodec() Codec {
	return codec{name: "msgpack", binary: true, marshal: msgpack.Marshal, unmarshal: msgpack.Unmarshal}
}

// Codecs is a fixed set of codecs with a default. It is safe for concurrent
// use because it never changes after construction.
type Codecs struct {
	byName map[string]Codec
	def    Codec
}

// NewCodecs builds a set whose default is def.
func NewCodecs(def Codec, others ...Codec) *Codecs {
	c := &Codecs{byName: map[string]Codec{def.Name(): def}, def: def}
	for _, o := range others {
		c.byName[o.Name()] = o
	}
	return c
}

// StandardCodecs is JSON by default, with MsgPack on request.
func StandardCodecs() *Codecs {
	return NewCodecs(NewJSONCodec(), NewMsgPackCodec())
}

// Negotiate returns the codec named by vsn, or the default when vsn is empty.
func (c *Codecs) Negotiate(vsn string) (Codec, error) {
	if vsn == "" {
		return c.def, nil
	}
	if codec, ok := c.byName[vsn]; ok {
		return codec, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, vsn)
}
