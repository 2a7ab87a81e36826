// Package thirdlevel implements the wide-area bridge between two framework
// instances: the manager-side client and the out-of-band mediator pairing
// the two systems.
//
// The control channel speaks a text protocol, one token per line. The data
// channel is a raw TCP stream carrying length-prefixed sparse grid images;
// the byte count travels as decimal text on the control channel.
package thirdlevel

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/combigrid/pkg/errors"
)

// Tokens sent by an instance to the mediator.
const (
	TokenReady          = "ready"
	TokenReadyToCombine = "ready_to_combine"
	TokenFinished       = "finished_computation"
	TokenSendingData    = "sending_data"
)

// Tokens sent by the mediator to an instance.
const (
	TokenCreateDataConn = "create_data_conn"
	TokenDoCombine      = "do_combine"
	TokenExit           = "exit"
)

// channel wraps one TCP connection with line-based token framing and a
// per-operation deadline.
type channel struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

func newChannel(conn net.Conn, timeout time.Duration) *channel {
	return &channel{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}
}

func (c *channel) deadline() time.Time {
	if c.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.timeout)
}

// sendToken writes one token line.
func (c *channel) sendToken(token string) error {
	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "control channel", err)
	}
	if _, err := fmt.Fprintf(c.conn, "%s\n", token); err != nil {
		return wrapNetErr("send token", err)
	}
	return nil
}

// recvToken reads one token line.
func (c *channel) recvToken() (string, error) {
	if err := c.conn.SetReadDeadline(c.deadline()); err != nil {
		return "", apperrors.Wrap(apperrors.CodeIOError, "control channel", err)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", wrapNetErr("receive token", err)
	}
	return strings.TrimSpace(line), nil
}

// expectToken reads a token and verifies it.
func (c *channel) expectToken(want string) error {
	got, err := c.recvToken()
	if err != nil {
		return err
	}
	if got != want {
		return apperrors.Newf(apperrors.CodeProtocolViolation,
			"expected token %q, got %q", want, got)
	}
	return nil
}

// recvSize reads a decimal byte count token.
func (c *channel) recvSize() (int, error) {
	tok, err := c.recvToken()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, apperrors.Newf(apperrors.CodeProtocolViolation, "invalid byte count %q", tok)
	}
	return n, nil
}

// writeAll writes exactly len(buf) bytes to the data connection.
func (c *channel) writeAll(buf []byte) error {
	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "data channel", err)
	}
	if _, err := c.conn.Write(buf); err != nil {
		return wrapNetErr("send data", err)
	}
	return nil
}

// readAll reads exactly n bytes from the data connection.
func (c *channel) readAll(n int) ([]byte, error) {
	if err := c.conn.SetReadDeadline(c.deadline()); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIOError, "data channel", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, wrapNetErr("receive data", err)
	}
	return buf, nil
}

func (c *channel) close() {
	_ = c.conn.Close()
}

func wrapNetErr(op string, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return apperrors.Wrap(apperrors.CodeTimeout, op, err)
	}
	return apperrors.Wrap(apperrors.CodeIOError, op, err)
}
