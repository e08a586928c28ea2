package media

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Router is the per-room forwarding context. It owns every transport,
// producer and consumer for one channel and decides which consumer may
// attach to which producer. One mutex serializes all metadata mutation;
// the media path (fanout) never takes it.
type Router struct {
	id     string
	roomID string
	worker *Worker
	caps   RtpCapabilities
	logger zerolog.Logger

	mu         sync.RWMutex
	closed     bool
	transports map[string]*Transport
	producers  map[string]*Producer
	consumers  map[string]*Consumer
}

func newRouter(worker *Worker, roomID string, caps RtpCapabilities) *Router {
	id := uuid.NewString()
	return &Router{
		id:     id,
		roomID: roomID,
		worker: worker,
		caps:   caps,
		logger: log.With().
			Str("module", "media.router").
			Str("router_id", id).
			Str("room", roomID).
			Logger(),
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
		consumers:  make(map[string]*Consumer),
	}
}

func (r *Router) ID() string     { return r.id }
func (r *Router) RoomID() string { return r.roomID }

// Capabilities returns the room's fixed codec table. Immutable after
// creation, so no lock is needed.
func (r *Router) Capabilities() RtpCapabilities { return r.caps }

// CreateTransport allocates a transport for the owning session.
// The at-most-one-per-direction rule is the session's to enforce; the
// router just hands out endpoints.
func (r *Router) CreateTransport(owner string, direction Direction) (*Transport, error) {
	t := newTransport(owner, direction)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRouterClosed
	}
	r.transports[t.id] = t
	r.logger.Info().
		Str("transport_id", t.id).
		Str("owner", owner).
		Str("direction", string(direction)).
		Msg("transport created")
	return t, nil
}

func (r *Router) getTransport(owner, transportID string) (*Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRouterClosed
	}
	t, ok := r.transports[transportID]
	if !ok {
		return nil, ErrTransportNotFound
	}
	if t.owner != owner {
		return nil, ErrNotTransportOwner
	}
	return t, nil
}

// ConnectTransport completes the DTLS handshake for an owned transport.
// The handshake itself runs outside the router lock.
func (r *Router) ConnectTransport(owner, transportID string, dtls webrtc.DTLSParameters) error {
	t, err := r.getTransport(owner, transportID)
	if err != nil {
		return err
	}
	return t.connect(dtls)
}

// Produce registers a new outbound track on a connected send transport.
func (r *Router) Produce(owner, peerID, transportID string, kind Kind, params RtpParameters, tag string) (*Producer, error) {
	if KindOf(params.Codec) != kind {
		return nil, ErrKindMismatch
	}
	if !r.caps.Supports(params.Codec) {
		return nil, ErrUnsupportedCodec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRouterClosed
	}
	t, ok := r.transports[transportID]
	if !ok {
		return nil, ErrTransportNotFound
	}
	if t.owner != owner {
		return nil, ErrNotTransportOwner
	}
	if t.direction != DirectionSend {
		return nil, ErrWrongDirection
	}
	if t.State() != TransportConnected {
		return nil, ErrTransportNotConnected
	}

	p := newProducer(owner, peerID, transportID, kind, params, tag, r.logger)
	r.producers[p.id] = p
	t.mu.Lock()
	t.producerIDs[p.id] = struct{}{}
	t.mu.Unlock()
	r.logger.Info().
		Str("producer_id", p.id).
		Str("peer", peerID).
		Str("kind", string(kind)).
		Str("tag", tag).
		Msg("producer created")
	return p, nil
}

// CanConsume checks whether the given capabilities can decode the given
// producer. False for unknown or closed producers.
func (r *Router) CanConsume(producerID string, caps RtpCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok || p.Closed() {
		return false
	}
	return CanConsume(p.params, caps)
}

// Consume attaches a new paused consumer for producerID onto an owned
// receive transport, after the capability gate.
func (r *Router) Consume(owner, transportID, producerID string, caps RtpCapabilities) (*Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRouterClosed
	}
	t, ok := r.transports[transportID]
	if !ok {
		return nil, ErrTransportNotFound
	}
	if t.owner != owner {
		return nil, ErrNotTransportOwner
	}
	if t.direction != DirectionRecv {
		return nil, ErrWrongDirection
	}
	p, ok := r.producers[producerID]
	if !ok || p.Closed() {
		return nil, ErrProducerNotFound
	}
	if !CanConsume(p.params, caps) {
		return nil, ErrCannotConsume
	}

	c := newConsumer(owner, transportID, producerID, p.kind, p.params)
	r.consumers[c.id] = c
	t.mu.Lock()
	t.consumerIDs[c.id] = struct{}{}
	t.mu.Unlock()
	p.fan.attach(c)
	r.logger.Info().
		Str("consumer_id", c.id).
		Str("producer_id", producerID).
		Str("owner", owner).
		Msg("consumer created")
	return c, nil
}

// ResumeConsumer flips an owned consumer to forwarding and nudges the
// producer for a keyframe so the late joiner renders promptly.
func (r *Router) ResumeConsumer(owner, consumerID string) error {
	r.mu.RLock()
	c, ok := r.consumers[consumerID]
	var p *Producer
	if ok {
		p = r.producers[c.producerID]
	}
	r.mu.RUnlock()
	if !ok {
		return ErrConsumerNotFound
	}
	if c.owner != owner {
		return ErrNotConsumerOwner
	}
	if c.State() == ConsumerClosed {
		return ErrConsumerClosed
	}
	c.resume()
	if p != nil {
		p.requestKeyFrame()
	}
	return nil
}

// CloseProducer closes one owned producer and cascades to its consumers.
// Other producers on the same transport are untouched (screen share stop
// must not take the camera down).
func (r *Router) CloseProducer(owner, producerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[producerID]
	if !ok {
		return ErrProducerNotFound
	}
	if p.owner != owner {
		return ErrNotTransportOwner
	}
	r.closeProducerLocked(p)
	return nil
}

func (r *Router) closeProducerLocked(p *Producer) {
	p.close()
	delete(r.producers, p.id)
	if t, ok := r.transports[p.transportID]; ok {
		t.mu.Lock()
		delete(t.producerIDs, p.id)
		t.mu.Unlock()
	}
	for id, c := range r.consumers {
		if c.producerID == p.id {
			r.closeConsumerLocked(id, c)
		}
	}
	r.logger.Info().Str("producer_id", p.id).Msg("producer closed")
}

func (r *Router) closeConsumerLocked(id string, c *Consumer) {
	c.close()
	delete(r.consumers, id)
	if p, ok := r.producers[c.producerID]; ok {
		p.fan.detach(id)
	}
	if t, ok := r.transports[c.transportID]; ok {
		t.mu.Lock()
		delete(t.consumerIDs, id)
		t.mu.Unlock()
	}
}

// CloseTransport tears down an owned transport, cascading to every
// producer and consumer created on it.
func (r *Router) CloseTransport(owner, transportID string) error {
	r.mu.Lock()
	t, ok := r.transports[transportID]
	if !ok {
		r.mu.Unlock()
		return ErrTransportNotFound
	}
	if t.owner != owner {
		r.mu.Unlock()
		return ErrNotTransportOwner
	}
	notify := r.closeTransportLocked(t, TransportClosed)
	r.mu.Unlock()
	if notify != nil {
		notify(TransportClosed)
	}
	return nil
}

// FailTransport marks a transport failed (ICE/DTLS failure or timeout)
// and cascades like a close. The owning session stays alive.
func (r *Router) FailTransport(transportID string) {
	r.mu.Lock()
	t, ok := r.transports[transportID]
	var notify func(TransportState)
	if ok {
		notify = r.closeTransportLocked(t, TransportFailed)
	}
	r.mu.Unlock()
	if notify != nil {
		notify(TransportFailed)
	}
}

func (r *Router) closeTransportLocked(t *Transport, to TransportState) func(TransportState) {
	t.mu.Lock()
	producerIDs := make([]string, 0, len(t.producerIDs))
	for id := range t.producerIDs {
		producerIDs = append(producerIDs, id)
	}
	consumerIDs := make([]string, 0, len(t.consumerIDs))
	for id := range t.consumerIDs {
		consumerIDs = append(consumerIDs, id)
	}
	t.mu.Unlock()

	for _, id := range producerIDs {
		if p, ok := r.producers[id]; ok {
			r.closeProducerLocked(p)
		}
	}
	for _, id := range consumerIDs {
		if c, ok := r.consumers[id]; ok {
			r.closeConsumerLocked(id, c)
		}
	}
	delete(r.transports, t.id)
	r.logger.Info().
		Str("transport_id", t.id).
		Str("state", string(to)).
		Msg("transport removed")
	return t.shutdown(to)
}

// GetProducer resolves a producer by id.
func (r *Router) GetProducer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	if !ok || p.Closed() {
		return nil, false
	}
	return p, true
}

// GetConsumer resolves a consumer by id.
func (r *Router) GetConsumer(id string) (*Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumers[id]
	return c, ok
}

// ReapIdleTransports fails every transport that never reached connected
// within the timeout. Returns the ids of reaped transports.
func (r *Router) ReapIdleTransports(now time.Time, timeout time.Duration) []string {
	r.mu.RLock()
	var idle []string
	for id, t := range r.transports {
		if t.idleSince(now, timeout) {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range idle {
		r.logger.Info().Str("transport_id", id).Msg("reaping idle transport")
		r.FailTransport(id)
	}
	return idle
}

// close force-closes everything. Called by the registry when the last
// session releases the room, or when the hosting worker fails.
func (r *Router) close(to TransportState) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var notifies []func(TransportState)
	for _, t := range r.transports {
		if fn := r.closeTransportLocked(t, to); fn != nil {
			notifies = append(notifies, fn)
		}
	}
	r.mu.Unlock()
	for _, fn := range notifies {
		fn(to)
	}
	r.logger.Info().Msg("router closed")
}
