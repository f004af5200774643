// Package bridge exchanges whole task lists with an external task source
// (a markdown file watcher) over length-prefixed JSON frames.
package bridge

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/dori/taskgate/internal/model"
)

// MaxFrame is the largest payload accepted
const MaxFrame = 8 << 20

var (
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
	ErrInvalidUTF8   = errors.New("frame is not valid UTF-8")
)

// Message types
const (
	TypeRead  = "read"
	TypeTasks = "tasks"
	TypeWrite = "write"
	TypeError = "error"
)

// Message is one frame's JSON document. An absent tasks field is an empty
// list.
type Message struct {
	Type  string       `json:"type"`
	Tasks []model.Task `json:"tasks,omitempty"`
	Error string       `json:"error,omitempty"`
}

// WriteFrame writes payload behind its 4-byte little-endian length
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrame {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame, assembling it across as many reads as the
// underlying reader needs. A zero-length frame ends the stream and is
// reported as io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n == 0 {
		return nil, io.EOF
	}
	if n > MaxFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if !utf8.Valid(payload) {
		return nil, ErrInvalidUTF8
	}
	return payload, nil
}

// Conn sends and receives messages over one stream
type Conn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader

	wmu sync.Mutex
}

// NewConn wraps a stream
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{rwc: rwc, r: bufio.NewReader(rwc)}
}

// Send writes msg as one frame
func (c *Conn) Send(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.rwc, payload)
}

// Receive reads the next message. The peer ending the stream is io.EOF.
func (c *Conn) Receive() (Message, error) {
	payload, err := ReadFrame(c.r)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return msg, nil
}

// End signals a graceful end of stream with a zero-length frame
func (c *Conn) End() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.rwc, nil)
}

// Close closes the stream
func (c *Conn) Close() error {
	return c.rwc.Close()
}
