package thirdlevel

import (
	"fmt"
	"net"
	"time"

	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/pkg/utils"
)

// Client is the manager-side end of the bridge. It keeps one long-lived
// control channel and one long-lived data channel to the mediator,
// identified by the system name.
type Client struct {
	host       string
	dataPort   int
	brokerPort int
	systemName string
	timeout    time.Duration
	logger     utils.Logger

	control *channel
	data    *channel
}

// NewClient creates an unconnected bridge client.
func NewClient(host string, dataPort, brokerPort int, systemName string, timeout time.Duration, logger utils.Logger) *Client {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Client{
		host:       host,
		dataPort:   dataPort,
		brokerPort: brokerPort,
		systemName: systemName,
		timeout:    timeout,
		logger:     logger.WithField("system", systemName),
	}
}

// Connect establishes the control channel, announces the system name,
// waits for the mediator's create_data_conn instruction and establishes
// the data channel.
func (c *Client) Connect() error {
	if c.control != nil {
		return nil
	}

	c.logger.Info("connecting to mediator at %s:%d", c.host, c.brokerPort)
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", c.host, c.brokerPort), c.timeout)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "dial control channel", err)
	}
	c.control = newChannel(conn, c.timeout)

	if err := c.control.sendToken(c.systemName); err != nil {
		c.Close()
		return err
	}
	if err := c.control.sendToken(TokenReady); err != nil {
		c.Close()
		return err
	}
	if err := c.control.expectToken(TokenCreateDataConn); err != nil {
		c.Close()
		return err
	}

	c.logger.Info("connecting data channel at %s:%d", c.host, c.dataPort)
	dataConn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", c.host, c.dataPort), c.timeout)
	if err != nil {
		c.Close()
		return apperrors.Wrap(apperrors.CodeIOError, "dial data channel", err)
	}
	c.data = newChannel(dataConn, c.timeout)

	if err := c.data.sendToken(c.systemName); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Exchange runs one combine handshake: signal readiness, wait for
// do_combine, ship the wire image, receive the peer's. Any protocol error
// aborts only this exchange; the caller proceeds with the local result.
func (c *Client) Exchange(image []byte) ([]byte, error) {
	if c.control == nil {
		return nil, apperrors.New(apperrors.CodeIOError, "bridge is not connected")
	}

	if err := c.control.sendToken(TokenReadyToCombine); err != nil {
		return nil, err
	}
	if err := c.control.expectToken(TokenDoCombine); err != nil {
		return nil, err
	}

	if err := c.control.sendToken(TokenSendingData); err != nil {
		return nil, err
	}
	if err := c.control.sendToken(fmt.Sprintf("%d", len(image))); err != nil {
		return nil, err
	}
	if err := c.data.writeAll(image); err != nil {
		return nil, err
	}

	peerSize, err := c.control.recvSize()
	if err != nil {
		return nil, err
	}
	peer, err := c.data.readAll(peerSize)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("exchanged %d bytes for %d peer bytes", len(image), len(peer))
	return peer, nil
}

// SignalFinished tells the mediator the computation is complete.
func (c *Client) SignalFinished() error {
	if c.control == nil {
		return nil
	}
	return c.control.sendToken(TokenFinished)
}

// Close tears down both channels.
func (c *Client) Close() {
	if c.control != nil {
		c.control.close()
		c.control = nil
	}
	if c.data != nil {
		c.data.close()
		c.data = nil
	}
}
