package media

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
)

type ConsumerState int32

const (
	// ConsumerPaused is the initial state: the consumer exists but
	// forwards nothing until the owning client has a decoder ready.
	ConsumerPaused ConsumerState = iota
	ConsumerForwarding
	ConsumerClosed
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerPaused:
		return "paused"
	case ConsumerForwarding:
		return "forwarding"
	default:
		return "closed"
	}
}

// Consumer is one inbound media track forwarded to a peer's receive
// transport, sourced from exactly one producer. The producer link is an
// id resolved through the router, never a live back-pointer.
type Consumer struct {
	id          string
	producerID  string
	transportID string
	owner       string // session id
	kind        Kind
	params      RtpParameters

	state   atomic.Int32
	pkts    chan *rtp.Packet
	dropped atomic.Uint64
}

func newConsumer(owner, transportID, producerID string, kind Kind, params RtpParameters) *Consumer {
	return &Consumer{
		id:          uuid.NewString(),
		producerID:  producerID,
		transportID: transportID,
		owner:       owner,
		kind:        kind,
		params:      params,
		pkts:        make(chan *rtp.Packet, 64),
	}
}

func (c *Consumer) ID() string            { return c.id }
func (c *Consumer) ProducerID() string    { return c.producerID }
func (c *Consumer) Kind() Kind            { return c.kind }
func (c *Consumer) Params() RtpParameters { return c.params }

func (c *Consumer) State() ConsumerState {
	return ConsumerState(c.state.Load())
}

// Packets is the delivery side read by the receive transport. Delivery
// is at-most-once: a full buffer drops the packet rather than stalling
// the forwarding loop.
func (c *Consumer) Packets() <-chan *rtp.Packet { return c.pkts }

// Dropped counts packets discarded due to a full delivery buffer.
func (c *Consumer) Dropped() uint64 { return c.dropped.Load() }

func (c *Consumer) writeRTP(pkt *rtp.Packet) error {
	switch c.State() {
	case ConsumerClosed:
		return ErrConsumerClosed
	case ConsumerPaused:
		return nil
	}
	select {
	case c.pkts <- pkt:
	default:
		c.dropped.Add(1)
	}
	return nil
}

func (c *Consumer) resume() {
	c.state.CompareAndSwap(int32(ConsumerPaused), int32(ConsumerForwarding))
}

func (c *Consumer) close() {
	c.state.Store(int32(ConsumerClosed))
}
