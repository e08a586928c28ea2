package media

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// Producer is one outbound media track published by a peer onto its
// send transport. Consumers are never referenced directly; the router
// resolves them by id and attaches them to the producer's fanout.
type Producer struct {
	id          string
	kind        Kind
	tag         string // application metadata: "camera", "mic", "screen"
	transportID string
	owner       string // session id
	peerID      string // user id of the publishing peer
	params      RtpParameters

	closed atomic.Bool
	fan    *fanout
	rtcpCh chan rtcp.Packet
	logger zerolog.Logger
}

func newProducer(owner, peerID, transportID string, kind Kind, params RtpParameters, tag string, logger zerolog.Logger) *Producer {
	return &Producer{
		id:          uuid.NewString(),
		kind:        kind,
		tag:         tag,
		transportID: transportID,
		owner:       owner,
		peerID:      peerID,
		params:      params,
		fan:         newFanout(),
		rtcpCh:      make(chan rtcp.Packet, 8),
		logger:      logger,
	}
}

func (p *Producer) ID() string            { return p.id }
func (p *Producer) Kind() Kind            { return p.kind }
func (p *Producer) Tag() string           { return p.tag }
func (p *Producer) PeerID() string        { return p.peerID }
func (p *Producer) Params() RtpParameters { return p.params }
func (p *Producer) Closed() bool          { return p.closed.Load() }

// WriteRTP feeds one packet from the publishing peer into the fanout.
// This is the media path; it takes no router locks.
func (p *Producer) WriteRTP(pkt *rtp.Packet) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	p.fan.forward(pkt, &p.logger)
	return nil
}

// RTCP exposes receiver feedback (keyframe requests) to the publishing
// side. The channel is never closed; drain it until the producer closes.
func (p *Producer) RTCP() <-chan rtcp.Packet { return p.rtcpCh }

// requestKeyFrame asks the sender for a keyframe refresh. Dropped if the
// feedback channel is full; PLI is best effort.
func (p *Producer) requestKeyFrame() {
	if p.closed.Load() {
		return
	}
	pli := &rtcp.PictureLossIndication{MediaSSRC: p.params.SSRC}
	select {
	case p.rtcpCh <- pli:
	default:
	}
}

func (p *Producer) close() {
	p.closed.Store(true)
}
