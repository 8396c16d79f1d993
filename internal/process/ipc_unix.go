//go:build !windows

package process

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// IPCEnvVar tells a managed child which descriptor carries the IPC channel.
const IPCEnvVar = "MULYO_IPC_FD"

const (
	maxMessageSize = 1 << 20
	messageBuffer  = 64
)

// Channel is the parent side of a managed child's IPC socket. Messages are
// newline-delimited JSON documents in both directions.
type Channel struct {
	f      *os.File
	log    *slog.Logger
	mu     sync.Mutex
	msgs   chan json.RawMessage
	closed bool
	once   sync.Once
}

// newChannelPair returns the parent channel and the file to hand to the child.
func newChannelPair(log *slog.Logger) (*Channel, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	// nonblocking so Close interrupts a pending read
	if err := unix.SetNonblock(fds[0], true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	parent := os.NewFile(uintptr(fds[0]), "mulyo-ipc")
	child := os.NewFile(uintptr(fds[1]), "mulyo-ipc-child")
	return &Channel{f: parent, log: log, msgs: make(chan json.RawMessage, messageBuffer)}, child, nil
}

func (c *Channel) start() {
	go c.readLoop()
}

func (c *Channel) readLoop() {
	defer close(c.msgs)
	sc := bufio.NewScanner(c.f)
	sc.Buffer(make([]byte, 0, 4096), maxMessageSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			c.log.Debug("ipc: dropping non-JSON line", "len", len(line))
			continue
		}
		msg := make(json.RawMessage, len(line))
		copy(msg, line)
		select {
		case c.msgs <- msg:
		default:
			c.log.Debug("ipc: receiver not keeping up, message dropped")
		}
	}
}

// Messages yields messages sent by the child. It is closed when the child
// closes its end or the channel is closed.
func (c *Channel) Messages() <-chan json.RawMessage { return c.msgs }

// Send writes v as one JSON line.
func (c *Channel) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("ipc channel closed")
	}
	_, err = c.f.Write(append(b, '\n'))
	return err
}

func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		err = c.f.Close()
	})
	return err
}
