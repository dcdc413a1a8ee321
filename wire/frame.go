// Package wire encodes the frames exchanged by the RPC dispatcher. A frame body is a fixed sequence of protobuf
// wire primitives, and frames are delimited on the stream by a 4-byte big-endian length prefix.
package wire

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"
)

// Type distinguishes the role a frame plays within a call.
type Type uint8

const (
	// TypeRequest opens a call. It carries the method, the call kind and the encoded arguments.
	TypeRequest Type = iota + 1
	// TypeData carries one value: the result of a sync/async call, or one stream element.
	TypeData
	// TypeEnd closes one direction of a stream call.
	TypeEnd
	// TypeError terminates a call with a code and message.
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeData:
		return "data"
	case TypeEnd:
		return "end"
	case TypeError:
		return "error"
	}

	return fmt.Sprintf("type(%d)", uint8(t))
}

// Kind is the call kind as carried on the wire.
type Kind uint8

const (
	KindSync Kind = iota + 1
	KindAsync
	KindSource
	KindDuplex
)

// Code classifies why a call failed.
type Code uint8

const (
	CodeOK Code = iota
	CodeNotFound
	CodePermissionDenied
	CodeKindMismatch
	CodeInternal
	CodeApplication
	CodeUnavailable
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeNotFound:
		return "not found"
	case CodePermissionDenied:
		return "permission denied"
	case CodeKindMismatch:
		return "kind mismatch"
	case CodeInternal:
		return "internal"
	case CodeApplication:
		return "application"
	case CodeUnavailable:
		return "unavailable"
	}

	return fmt.Sprintf("code(%d)", uint8(c))
}

// Frame is one unit of the RPC protocol.
type Frame struct {
	Type Type
	ID   uint32
	Kind Kind
	Code Code

	Method  string
	Message string
	Payload []byte
}

// Marshal encodes the frame body, without the length prefix.
func (f *Frame) Marshal() []byte {
	buf := proto.NewBuffer(make([]byte, 0, 16+len(f.Method)+len(f.Message)+len(f.Payload)))

	// Buffer writes never fail.
	_ = buf.EncodeVarint(uint64(f.Type))
	_ = buf.EncodeVarint(uint64(f.ID))
	_ = buf.EncodeVarint(uint64(f.Kind))
	_ = buf.EncodeVarint(uint64(f.Code))
	_ = buf.EncodeStringBytes(f.Method)
	_ = buf.EncodeStringBytes(f.Message)
	_ = buf.EncodeRawBytes(f.Payload)

	return buf.Bytes()
}

// Unmarshal decodes a frame body produced by Marshal.
func Unmarshal(body []byte) (*Frame, error) {
	buf := proto.NewBuffer(body)

	var fields [4]uint64

	for i := range fields {
		v, err := buf.DecodeVarint()
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode frame header")
		}
		fields[i] = v
	}

	if fields[0] < uint64(TypeRequest) || fields[0] > uint64(TypeError) {
		return nil, errors.Errorf("unknown frame type %d", fields[0])
	}

	if fields[1] > 1<<32-1 || fields[2] > 255 || fields[3] > 255 {
		return nil, errors.New("frame header field out of range")
	}

	f := &Frame{Type: Type(fields[0]), ID: uint32(fields[1]), Kind: Kind(fields[2]), Code: Code(fields[3])}

	var err error

	if f.Method, err = buf.DecodeStringBytes(); err != nil {
		return nil, errors.Wrap(err, "failed to decode frame method")
	}

	if f.Message, err = buf.DecodeStringBytes(); err != nil {
		return nil, errors.Wrap(err, "failed to decode frame message")
	}

	if f.Payload, err = buf.DecodeRawBytes(true); err != nil {
		return nil, errors.Wrap(err, "failed to decode frame payload")
	}

	if _, err := buf.DecodeVarint(); err == nil {
		return nil, errors.New("trailing bytes after frame")
	}

	return f, nil
}
