package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWrite(t *testing.T) {
	frames := []*Frame{
		{Type: TypeRequest, ID: 3, Kind: KindDuplex, Method: "echo", Payload: []byte(`["hi"]`)},
		{Type: TypeData, ID: 3, Payload: []byte(`"hi"`)},
		{Type: TypeError, ID: 1<<32 - 1, Code: CodePermissionDenied, Message: "no"},
		{Type: TypeEnd, ID: 3},
	}

	buf := new(bytes.Buffer)

	for _, f := range frames {
		require.NoError(t, Write(buf, f, 0))
	}

	for _, expected := range frames {
		f, err := Read(buf, 0)
		require.NoError(t, err)

		assert.Equal(t, expected.Type, f.Type)
		assert.Equal(t, expected.ID, f.ID)
		assert.Equal(t, expected.Kind, f.Kind)
		assert.Equal(t, expected.Code, f.Code)
		assert.Equal(t, expected.Method, f.Method)
		assert.Equal(t, expected.Message, f.Message)
		assert.Equal(t, string(expected.Payload), string(f.Payload))
	}

	_, err := Read(buf, 0)
	assert.Equal(t, io.EOF, err)
}

func TestFrameTooLarge(t *testing.T) {
	f := &Frame{Type: TypeData, Payload: make([]byte, 128)}

	err := Write(new(bytes.Buffer), f, 64)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))

	buf := new(bytes.Buffer)
	require.NoError(t, Write(buf, f, 0))

	_, err = Read(buf, 64)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestTruncatedFrame(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, Write(buf, &Frame{Type: TypeData, ID: 1, Payload: []byte("payload")}, 0))

	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := Read(bytes.NewReader(truncated), 0)
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)

	_, err = Read(bytes.NewReader(truncated[:2]), 0)
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{9, 0, 0, 0, 0, 0, 0})
	assert.Error(t, err, "unknown frame type")

	body := (&Frame{Type: TypeEnd}).Marshal()
	_, err = Unmarshal(append(body, 1))
	assert.Error(t, err, "trailing bytes")
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "permission denied", CodePermissionDenied.String())
	assert.Equal(t, "data", TypeData.String())
	assert.Equal(t, "type(42)", Type(42).String())
}
