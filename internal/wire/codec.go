package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DefaultMaxFrameBytes is the frame size cap used when a Codec is built
// without an explicit override (spec's max_frame_bytes default).
const DefaultMaxFrameBytes = 64 * 1024 * 1024

// FrameError reports a failure decoding or bounding a frame. Callers treat
// it as fatal to the session: the socket is closed and the registry drops it.
type FrameError struct {
	Reason string
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("frame error: %s", e.Reason)
}

func (e *FrameError) Unwrap() error { return e.Err }

func frameErr(reason string, err error) *FrameError {
	return &FrameError{Reason: reason, Err: err}
}

// Codec frames Messages onto an underlying byte stream: 8-byte big-endian
// length, then zlib-compressed UTF-8 JSON. Reads and writes are each atomic
// relative to the stream; callers serialize concurrent writers themselves
// (the send queue owns that responsibility upstream).
type Codec struct {
	rw            io.ReadWriter
	maxFrameBytes uint64
}

// NewCodec wraps rw with the default frame size cap.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{rw: rw, maxFrameBytes: DefaultMaxFrameBytes}
}

// NewCodecWithLimit wraps rw with an explicit frame size cap, honoring the
// configured max_frame_bytes option.
func NewCodecWithLimit(rw io.ReadWriter, maxFrameBytes uint64) *Codec {
	return &Codec{rw: rw, maxFrameBytes: maxFrameBytes}
}

// WriteMessage encodes msg and writes one length-prefixed frame.
func (c *Codec) WriteMessage(msg *Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	if uint64(len(payload)) > c.maxFrameBytes {
		return frameErr("outbound frame exceeds max_frame_bytes", nil)
	}

	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(payload)))

	if _, err := c.rw.Write(header[:]); err != nil {
		return frameErr("write length header", err)
	}
	if _, err := c.rw.Write(payload); err != nil {
		return frameErr("write payload", err)
	}
	return nil
}

// ReadMessage blocks for one full frame and decodes it.
func (c *Codec) ReadMessage() (*Message, error) {
	var header [8]byte
	if _, err := io.ReadFull(c.rw, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, frameErr("peer closed before length header", err)
		}
		return nil, frameErr("read length header", err)
	}

	n := binary.BigEndian.Uint64(header[:])
	if n > c.maxFrameBytes {
		return nil, frameErr(fmt.Sprintf("frame of %d bytes exceeds max_frame_bytes", n), nil)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.rw, payload); err != nil {
		return nil, frameErr("peer closed mid-frame", err)
	}

	return Decode(payload)
}

// Encode compresses msg's JSON encoding with zlib. It never emits a frame
// header; callers needing the wire framing use WriteMessage.
func Encode(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, frameErr("json encode", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, frameErr("zlib compress", err)
	}
	if err := zw.Close(); err != nil {
		return nil, frameErr("zlib flush", err)
	}

	return buf.Bytes(), nil
}

// Decode reverses Encode: zlib-inflate then JSON-decode into a Message.
func Decode(payload []byte) (*Message, error) {
	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, frameErr("zlib decompress", err)
	}
	defer zr.Close()

	body, err := io.ReadAll(zr)
	if err != nil {
		return nil, frameErr("zlib decompress", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, frameErr("json decode", err)
	}
	return &msg, nil
}
