package npi

import (
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/coprocbridge/mtnpi/mtmsg"
)

// pollInterval bounds how long the forwarder loops below wait on their
// respective queues before re-checking whether their socket has died; it is
// not a protocol timeout, just a shutdown-responsiveness knob.
const pollInterval = 500 * time.Millisecond

// Connection is one NPI client's half of the bridge: its own socket
// MsgInterface, a queue of AREQs fanned out to it by the Server, and the two
// forwarder goroutines (spec §4.4) that move traffic between that queue/
// socket and the shared UART interface.
//
// Grounded on the original's struct npi_connection (is_dead, u2s_busy,
// s2u_busy, areq_list, socket_interface, thread_id_u2s); the busy-flag
// polling there is replaced with a sync.WaitGroup the Server can block on
// during shutdown.
type Connection struct {
	ID xid.ID

	socket    *mtmsg.MsgInterface
	areqQueue *mtmsg.MessageList

	server *Server
	logger *logrus.Entry

	wg sync.WaitGroup
}

func newConnection(server *Server, stream mtmsg.ByteStream, opts ...mtmsg.Option) (*Connection, error) {
	id := xid.New()
	ifaceOpts := append([]mtmsg.Option{
		mtmsg.WithDbgName("npi-" + id.String()),
		mtmsg.WithOnFragmentRetry(server.metrics.incFragmentRetries),
		mtmsg.WithOnFragmentAbort(server.metrics.incFragmentAbort),
	}, opts...)
	socket, err := mtmsg.Create(stream, ifaceOpts...)
	if err != nil {
		return nil, err
	}
	return &Connection{
		ID:        id,
		socket:    socket,
		areqQueue: mtmsg.NewMessageList("areq-" + id.String()),
		server:    server,
		logger:    logrus.WithField("conn", id.String()),
	}, nil
}

// run starts the u2s (UART-to-socket, i.e. fan-out delivery) and s2u
// (socket-to-UART, i.e. client requests) forwarder goroutines.
func (c *Connection) run() {
	c.wg.Add(2)
	go c.u2sLoop()
	go c.s2uLoop()
}

// u2sLoop delivers AREQs fanned out to this connection by the Server onto
// the client socket.
func (c *Connection) u2sLoop() {
	defer c.wg.Done()
	for {
		if c.socket.IsDead() {
			return
		}
		msg, err := c.areqQueue.RemoveWait(pollInterval)
		if err != nil {
			continue
		}
		if _, err := c.socket.Forward(msg, &c.server.uart.Options); err != nil {
			c.logger.WithError(err).Warn("forwarding fanned-out message to client failed")
			return
		}
		c.server.metrics.incAREQOut()
	}
}

// s2uLoop reads requests the client issued on its socket and forwards them
// to the shared UART interface: a SREQ is sent and waited on so its SRSP can
// be relayed back; everything else (POLL, AREQ) is fire-and-forget.
func (c *Connection) s2uLoop() {
	defer c.wg.Done()
	for {
		msg, err := c.socket.RemoveWait(pollInterval)
		if err != nil {
			if c.socket.IsDead() {
				return
			}
			continue
		}

		switch msg.Class() {
		case mtmsg.ClassSREQ:
			c.server.metrics.incSREQIn()
		case mtmsg.ClassAREQ:
			c.server.metrics.incAREQIn()
		case mtmsg.ClassPoll:
			c.server.metrics.incPollIn()
		}

		if msg.Class() == mtmsg.ClassSREQ {
			srsp, err := c.server.uart.ForwardAndWait(msg, &c.socket.Options)
			if err != nil {
				c.logger.WithError(err).Warn("SREQ forwarded to co-processor failed")
				if err == mtmsg.ErrTimeout {
					c.server.metrics.incSRSPTimeout()
				}
				continue
			}
			c.server.metrics.incSREQOut()
			if _, err := c.socket.Forward(srsp, &c.server.uart.Options); err != nil {
				c.logger.WithError(err).Warn("writing SRSP back to client failed")
				return
			}
			continue
		}

		if _, err := c.server.uart.Forward(msg, &c.socket.Options); err != nil {
			c.logger.WithError(err).Warn("forwarding client message to co-processor failed")
			continue
		}
		switch msg.Class() {
		case mtmsg.ClassAREQ:
			c.server.metrics.incAREQOut()
		case mtmsg.ClassPoll:
			c.server.metrics.incPollOut()
		}
	}
}

// close tears the connection down: destroys its socket (which stops both
// forwarder loops) and waits for them to exit before releasing its queue.
func (c *Connection) close() {
	c.socket.Destroy()
	c.wg.Wait()
	c.areqQueue.Destroy()
}
