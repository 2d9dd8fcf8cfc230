// Package frame implements the tagged, length-prefixed wire format that
// multiplexes a child process's stdin/stdout/stderr, its terminal exit
// status, and keep-alive liveness pings over a single duplex byte stream.
//
// Wire format for a non-keep-alive frame:
//
//	<1-byte tag><4-byte big-endian length><length bytes payload>
//
// A keep-alive frame is a single tag byte with no length and no payload.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind tags a frame on the wire.
type Kind byte

const (
	KindStdin     Kind = 1
	KindStdout    Kind = 2
	KindStderr    Kind = 3
	KindExit      Kind = 4
	KindKeepAlive Kind = 5

	// KindInvoke is not part of a committed Run's frame sequence. It carries
	// the client's invocation envelope (argv + flags) as the first frame of
	// an IPC session; see internal/ipc.
	KindInvoke Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindStdin:
		return "STDIN"
	case KindStdout:
		return "STDOUT"
	case KindStderr:
		return "STDERR"
	case KindExit:
		return "EXIT"
	case KindKeepAlive:
		return "KEEP_ALIVE"
	case KindInvoke:
		return "INVOKE"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

func (k Kind) valid() bool {
	switch k {
	case KindStdin, KindStdout, KindStderr, KindExit, KindKeepAlive, KindInvoke:
		return true
	default:
		return false
	}
}

// Frame is one tagged chunk on the wire. EXIT frames carry exactly one
// payload byte, the child's exit status (0-255).
type Frame struct {
	Kind    Kind
	Payload []byte
}

var (
	// ErrProtocol is returned when an unrecognized tag byte is encountered.
	// No further frames are emitted after this error.
	ErrProtocol = errors.New("frame: protocol error")

	// ErrUnexpectedEOF is returned when the input ends in the middle of a
	// frame (a partial header or a short payload).
	ErrUnexpectedEOF = errors.New("frame: unexpected end of stream")

	// ErrBadExitPayload is returned when an EXIT frame's payload length is
	// not exactly 1 byte.
	ErrBadExitPayload = errors.New("frame: exit frame requires a 1-byte payload")
)

// maxChunk bounds how much of one logical write is ever carried by a single
// frame. Larger logical writes are split by the sender into consecutive
// frames of the same kind, as required by the wire format's 2^32-1 payload
// ceiling; this constant keeps any one frame's footprint bounded well under
// that ceiling regardless of how large the caller's buffer is.
const maxChunk = 1 << 20 // 1 MiB

// WriteFrame encodes a single frame to w. Payloads longer than maxChunk are
// split into consecutive frames of the same kind; EXIT and KEEP_ALIVE are
// never split (EXIT is fixed at 1 byte, KEEP_ALIVE carries none).
func WriteFrame(w io.Writer, kind Kind, payload []byte) error {
	if kind == KindKeepAlive {
		_, err := w.Write([]byte{byte(kind)})
		return err
	}
	if kind == KindExit {
		if len(payload) != 1 {
			return ErrBadExitPayload
		}
		return writeChunk(w, kind, payload)
	}
	if len(payload) == 0 {
		return writeChunk(w, kind, payload)
	}
	for off := 0; off < len(payload); off += maxChunk {
		end := off + maxChunk
		if end > len(payload) {
			end = len(payload)
		}
		if err := writeChunk(w, kind, payload[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func writeChunk(w io.Writer, kind Kind, payload []byte) error {
	var header [5]byte
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// WriteKeepAlive writes a single keep-alive frame to w.
func WriteKeepAlive(w io.Writer) error {
	return WriteFrame(w, KindKeepAlive, nil)
}

// WriteExit writes the terminal EXIT frame carrying status.
func WriteExit(w io.Writer, status byte) error {
	return WriteFrame(w, KindExit, []byte{status})
}

// Decoder reads frames from a split-tolerant byte stream: an underlying
// io.Reader may hand back arbitrarily small chunks, including chunks that
// split a frame's header or payload across reads. Decoder reassembles
// frames transparently using io.ReadFull, which already loops until it has
// read exactly as many bytes as requested or hits an error.
//
// KEEP_ALIVE frames are consumed internally and never returned from Next.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r in a Decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 32*1024)}
}

// Next returns the next non-keep-alive frame. It returns io.EOF when the
// stream ends cleanly on a frame boundary, ErrUnexpectedEOF when the stream
// ends mid-frame, and ErrProtocol on an unrecognized tag byte (with no
// further frames emitted after that).
func (d *Decoder) Next() (Frame, error) {
	for {
		tagByte, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}
		kind := Kind(tagByte)
		if !kind.valid() {
			return Frame{}, fmt.Errorf("%w: tag %d", ErrProtocol, tagByte)
		}
		if kind == KindKeepAlive {
			continue
		}

		var lenBuf [4]byte
		if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
			return Frame{}, wrapShortRead(err)
		}
		length := binary.BigEndian.Uint32(lenBuf[:])

		if kind == KindExit && length != 1 {
			return Frame{}, ErrBadExitPayload
		}

		var payload []byte
		if length > 0 {
			payload = make([]byte, length)
			if _, err := io.ReadFull(d.r, payload); err != nil {
				return Frame{}, wrapShortRead(err)
			}
		}
		return Frame{Kind: kind, Payload: payload}, nil
	}
}

func wrapShortRead(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnexpectedEOF
	}
	return err
}

// DecodeAll drains d until a clean io.EOF, returning every frame observed
// in order. Used by the cache store to rehydrate a committed Run from its
// on-disk file, where a clean EOF at the end of the file is expected.
func DecodeAll(r io.Reader) ([]Frame, error) {
	d := NewDecoder(r)
	var out []Frame
	for {
		f, err := d.Next()
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		out = append(out, f)
	}
}
