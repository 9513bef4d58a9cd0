// Package npi implements the NPI bridge: one UART MsgInterface shared by N
// TCP client connections, fanning out AREQs from the co-processor to every
// client and forwarding client requests back onto the UART link.
package npi

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/coprocbridge/mtnpi/bytestream"
	"github.com/coprocbridge/mtnpi/mtmsg"
)

// maxResetDrainMessages bounds how many messages Server.ResetCoprocessor
// will read off the UART interface looking for SYS_RESET_IND before giving
// up, matching the original NPI server's reset-handshake constant.
const maxResetDrainMessages = 20

// Server owns the UART MsgInterface and the registry of connected NPI
// clients. It is the process-wide serialization point the spec's
// concurrency model describes: every client's requests funnel through the
// same uart.Forward/ForwardAndWait, which in turn serializes on the UART
// interface's own tx lock.
type Server struct {
	uart *mtmsg.MsgInterface
	cfg  Config

	metrics *Metrics
	logger  *logrus.Entry

	mu    sync.RWMutex
	conns map[xid.ID]*Connection

	listener net.Listener
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates the UART MsgInterface from cfg and prepares the
// connection registry; it does not yet listen or accept.
func NewServer(uartStream mtmsg.ByteStream, cfg Config) (*Server, error) {
	metrics := NewMetrics()
	uartOpts := append([]mtmsg.Option{
		mtmsg.WithDbgName("uart"),
		mtmsg.WithIsNPI(true),
		mtmsg.WithOnFragmentRetry(metrics.incFragmentRetries),
		mtmsg.WithOnFragmentAbort(metrics.incFragmentAbort),
	}, cfg.InterfaceOptions...)
	uart, err := mtmsg.Create(uartStream, uartOpts...)
	if err != nil {
		return nil, err
	}
	return &Server{
		uart:    uart,
		cfg:     cfg,
		metrics: metrics,
		logger:  logrus.WithField("component", "npi-server"),
		conns:   make(map[xid.ID]*Connection),
		doneCh:  make(chan struct{}),
	}, nil
}

// Metrics returns the server's prometheus.Collector for registration with a
// caller-supplied registry.
func (s *Server) Metrics() *Metrics { return s.metrics }

// ResetCoprocessor issues SYS_RESET_REQ and waits for SYS_RESET_IND, per
// spec §6, discarding up to maxResetDrainMessages unrelated messages that
// may arrive first.
func (s *Server) ResetCoprocessor(timeout time.Duration) error {
	if _, err := s.uart.Send(mtmsg.NewSysResetReq(mtmsg.ResetCold)); err != nil {
		return fmt.Errorf("npi: sending SYS_RESET_REQ: %w", err)
	}
	deadline := time.Now().Add(timeout)
	for i := 0; i < maxResetDrainMessages; i++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return mtmsg.ErrTimeout
		}
		msg, err := s.uart.RemoveWait(remaining)
		if err != nil {
			return err
		}
		if mtmsg.IsSysResetInd(msg) {
			s.metrics.incResetCycle()
			return nil
		}
	}
	return fmt.Errorf("npi: no SYS_RESET_IND within %d drained messages", maxResetDrainMessages)
}

// Serve accepts client connections on ln until Close is called, starting
// the UART-to-clients fan-out worker first.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln

	s.wg.Add(1)
	go s.fanOutLoop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.doneCh:
				return nil
			default:
				return err
			}
		}
		s.acceptConn(conn)
	}
}

func (s *Server) acceptConn(conn net.Conn) {
	stream := bytestream.NewTCPStream(conn)
	nc, err := newConnection(s, stream, s.cfg.InterfaceOptions...)
	if err != nil {
		s.logger.WithError(err).Warn("failed to create connection interface")
		_ = stream.Close()
		return
	}

	s.mu.Lock()
	s.conns[nc.ID] = nc
	s.mu.Unlock()
	s.metrics.addConnection(nc.ID, conn.RemoteAddr().String())

	nc.run()

	s.wg.Add(1)
	go s.watchConnection(nc)
}

// watchConnection removes a connection from the registry once its socket
// has died, releasing its resources.
func (s *Server) watchConnection(nc *Connection) {
	defer s.wg.Done()
	for !nc.socket.IsDead() {
		select {
		case <-s.doneCh:
			nc.close()
			s.forgetConn(nc.ID)
			return
		case <-time.After(pollInterval):
		}
	}
	nc.close()
	s.forgetConn(nc.ID)
}

func (s *Server) forgetConn(id xid.ID) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	s.metrics.removeConnection(id)
}

// fanOutLoop is the single reader of the UART interface's receive queue: it
// clones every inbound AREQ to each connected client's areqQueue, per spec
// §4.4's fan-out design.
func (s *Server) fanOutLoop() {
	defer s.wg.Done()
	for {
		if s.uart.IsDead() {
			return
		}
		msg, err := s.uart.RemoveWait(pollInterval)
		if err != nil {
			continue
		}
		s.metrics.incAREQIn()

		s.mu.RLock()
		targets := make([]*Connection, 0, len(s.conns))
		for _, c := range s.conns {
			targets = append(targets, c)
		}
		s.mu.RUnlock()

		for _, c := range targets {
			c.areqQueue.Insert(msg.Clone())
		}
		if len(targets) > 0 {
			s.metrics.incAREQForwarded()
		}
	}
}

// Close stops accepting, tears down every connection, and destroys the UART
// interface, waiting for all of the server's own goroutines to exit.
func (s *Server) Close() error {
	close(s.doneCh)
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}

	s.uart.Destroy()
	s.wg.Wait()
	return nil
}
