package thirdlevel

import (
	"fmt"
	"net"
	"sync"
	"time"

	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/pkg/utils"
)

// system is the mediator-side view of one connected instance: the named
// control channel pair and the data stream.
type system struct {
	name    string
	control *channel
	data    *channel
}

// Mediator pairs two framework instances. It owns one listener for the
// control channels and one for the data channels, runs the per-iteration
// handshake and bridges the two data streams.
type Mediator struct {
	timeout time.Duration
	logger  utils.Logger

	controlListener net.Listener
	dataListener    net.Listener

	systems []*system
}

// NewMediator creates an unbound mediator.
func NewMediator(timeout time.Duration, logger utils.Logger) *Mediator {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Mediator{timeout: timeout, logger: logger}
}

// Listen binds the control and data listeners. Port 0 picks an ephemeral
// port; the chosen addresses are available through BrokerAddr and
// DataAddr.
func (m *Mediator) Listen(brokerPort, dataPort int) error {
	var err error
	m.controlListener, err = net.Listen("tcp", fmt.Sprintf(":%d", brokerPort))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "bind control listener", err)
	}
	m.dataListener, err = net.Listen("tcp", fmt.Sprintf(":%d", dataPort))
	if err != nil {
		m.controlListener.Close()
		return apperrors.Wrap(apperrors.CodeIOError, "bind data listener", err)
	}
	return nil
}

// BrokerAddr returns the bound control address.
func (m *Mediator) BrokerAddr() net.Addr {
	return m.controlListener.Addr()
}

// DataAddr returns the bound data address.
func (m *Mediator) DataAddr() net.Addr {
	return m.dataListener.Addr()
}

// Serve accepts the two systems and runs handshakes until either signals
// finished_computation, then instructs both to exit.
func (m *Mediator) Serve() error {
	if err := m.acceptSystems(); err != nil {
		return err
	}
	defer m.Close()

	for {
		tokens, err := m.recvFromBoth()
		if err != nil {
			return err
		}

		if tokens[0] == TokenFinished || tokens[1] == TokenFinished {
			m.logger.Info("computation finished, telling both systems to exit")
			for _, s := range m.systems {
				_ = s.control.sendToken(TokenExit)
			}
			return nil
		}

		if tokens[0] != TokenReadyToCombine || tokens[1] != TokenReadyToCombine {
			return apperrors.Newf(apperrors.CodeProtocolViolation,
				"unexpected tokens %q / %q", tokens[0], tokens[1])
		}

		if err := m.bridgeCombine(); err != nil {
			return err
		}
	}
}

// acceptSystems takes the two control connections, instructs both ends to
// open their data connections and pairs them by system name.
func (m *Mediator) acceptSystems() error {
	for len(m.systems) < 2 {
		conn, err := m.controlListener.Accept()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeIOError, "accept control channel", err)
		}
		// Token waits are unbounded: instances compute between combines
		// for arbitrary stretches.
		control := newChannel(conn, 0)

		name, err := control.recvToken()
		if err != nil {
			control.close()
			return err
		}
		if err := control.expectToken(TokenReady); err != nil {
			control.close()
			return err
		}

		m.logger.Info("system %q connected", name)
		m.systems = append(m.systems, &system{name: name, control: control})
	}

	for _, s := range m.systems {
		if err := s.control.sendToken(TokenCreateDataConn); err != nil {
			return err
		}
	}

	for i := 0; i < 2; i++ {
		conn, err := m.dataListener.Accept()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeIOError, "accept data channel", err)
		}
		data := newChannel(conn, m.timeout)

		name, err := data.recvToken()
		if err != nil {
			data.close()
			return err
		}

		matched := false
		for _, s := range m.systems {
			if s.name == name && s.data == nil {
				s.data = data
				matched = true
				break
			}
		}
		if !matched {
			data.close()
			return apperrors.Newf(apperrors.CodeProtocolViolation,
				"data connection for unknown system %q", name)
		}
	}
	return nil
}

// recvFromBoth reads the next control token of each system concurrently.
func (m *Mediator) recvFromBoth() ([2]string, error) {
	var tokens [2]string
	var errs [2]error
	var wg sync.WaitGroup

	for i, s := range m.systems {
		wg.Add(1)
		go func(i int, s *system) {
			defer wg.Done()
			tokens[i], errs[i] = s.control.recvToken()
		}(i, s)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return tokens, err
		}
	}
	return tokens, nil
}

// bridgeCombine performs one combine: both systems stream their image in,
// then each image travels out to the opposite system, byte count first.
func (m *Mediator) bridgeCombine() error {
	for _, s := range m.systems {
		if err := s.control.sendToken(TokenDoCombine); err != nil {
			return err
		}
	}

	var images [2][]byte
	var errs [2]error
	var wg sync.WaitGroup
	for i, s := range m.systems {
		wg.Add(1)
		go func(i int, s *system) {
			defer wg.Done()
			if errs[i] = s.control.expectToken(TokenSendingData); errs[i] != nil {
				return
			}
			var size int
			if size, errs[i] = s.control.recvSize(); errs[i] != nil {
				return
			}
			images[i], errs[i] = s.data.readAll(size)
		}(i, s)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	for i, s := range m.systems {
		peer := images[1-i]
		if err := s.control.sendToken(fmt.Sprintf("%d", len(peer))); err != nil {
			return err
		}
		if err := s.data.writeAll(peer); err != nil {
			return err
		}
	}

	m.logger.Info("bridged combine: %d / %d bytes", len(images[0]), len(images[1]))
	return nil
}

// Close tears down all listeners and connections.
func (m *Mediator) Close() {
	if m.controlListener != nil {
		m.controlListener.Close()
	}
	if m.dataListener != nil {
		m.dataListener.Close()
	}
	for _, s := range m.systems {
		if s.control != nil {
			s.control.close()
		}
		if s.data != nil {
			s.data.close()
		}
	}
}
