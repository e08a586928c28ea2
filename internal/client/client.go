package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nhan2892005/study-space-media/internal/media"
)

var (
	ErrCannotPublish = errors.New("device cannot produce any offered kind")
	ErrNotJoined     = errors.New("not joined to a channel")
	ErrNoSuchTrack   = errors.New("no such local track")
)

// Signaler performs one signaling round-trip. The websocket adapter and
// test fakes both satisfy it.
type Signaler interface {
	Request(ctx context.Context, typ string, data, out any) error
}

// Renderer receives remote tracks once their consumer exists. Resuming
// happens only after Render returns, so packets never arrive before a
// decoder is in place.
type Renderer interface {
	Render(view TrackView)
	Remove(socketID, consumerID string)
}

// TrackView describes one remote track for rendering.
type TrackView struct {
	ConsumerID string
	ProducerID string
	SocketID   string
	PeerID     string
	Kind       media.Kind
	Tag        string
}

type State int32

const (
	StateIdle State = iota
	StateDeviceLoaded
	StateJoined
	StateLeft
)

// Client is the per-connection client state machine:
// Idle → DeviceLoaded → (Publishing | Joined) → Left.
type Client struct {
	sig      Signaler
	renderer Renderer
	dev      *Device
	timeout  time.Duration
	logger   zerolog.Logger

	mu          sync.Mutex
	state       State
	socketID    string
	channelID   string
	send        *SendTransport
	recvID      string
	recvPending chan struct{}
	producers   map[string]string    // tag -> producer id
	consumers   map[string]TrackView // consumer id -> view
}

func New(sig Signaler, renderer Renderer, dev *Device, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		sig:       sig,
		renderer:  renderer,
		dev:       dev,
		timeout:   timeout,
		logger:    log.With().Str("module", "client").Logger(),
		producers: make(map[string]string),
		consumers: make(map[string]TrackView),
	}
}

func (c *Client) Device() *Device { return c.dev }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) request(ctx context.Context, typ string, data, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.sig.Request(ctx, typ, data, out)
}

// Join enters the channel and records our socket id for the echo guard.
func (c *Client) Join(ctx context.Context, channelID, serverID string) error {
	var out struct {
		ChannelID string `json:"channelId"`
		SocketID  string `json:"socketId"`
	}
	err := c.request(ctx, "join-channel", map[string]any{
		"channelId": channelID,
		"serverId":  serverID,
	}, &out)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.channelID = channelID
	c.socketID = out.SocketID
	c.mu.Unlock()
	return nil
}

// SetupDevice fetches router capabilities and loads the negotiator.
// Must happen before any transport is created; a second call while
// loaded is a no-op.
func (c *Client) SetupDevice(ctx context.Context) error {
	if c.dev.Loaded() {
		return nil
	}
	c.mu.Lock()
	channelID := c.channelID
	c.mu.Unlock()
	if channelID == "" {
		return ErrNotJoined
	}

	var out struct {
		RtpCapabilities media.RtpCapabilities `json:"rtpCapabilities"`
	}
	if err := c.request(ctx, "getRouterRtpCapabilities", map[string]any{"channelId": channelID}, &out); err != nil {
		return err
	}
	c.dev.Load(out.RtpCapabilities)

	c.mu.Lock()
	if c.state == StateIdle {
		c.state = StateDeviceLoaded
	}
	c.mu.Unlock()
	return nil
}

// CreateSendTransport requests transport parameters and wires the
// connect/produce round-trips the local transport will fire.
func (c *Client) CreateSendTransport(ctx context.Context) error {
	if !c.dev.Loaded() {
		return ErrDeviceNotLoaded
	}
	if !c.dev.CanProduce(media.KindAudio) && !c.dev.CanProduce(media.KindVideo) {
		return ErrCannotPublish
	}
	c.mu.Lock()
	channelID := c.channelID
	c.mu.Unlock()
	if channelID == "" {
		return ErrNotJoined
	}

	var info media.TransportInfo
	err := c.request(ctx, "createWebRtcTransport", map[string]any{
		"channelId": channelID,
		"direction": "send",
	}, &info)
	if err != nil {
		return err
	}

	t := &SendTransport{
		id:      info.ID,
		dtls:    info.DTLSParameters,
		timeout: c.timeout,
		connectFn: func(ctx context.Context, dtls webrtc.DTLSParameters) error {
			return c.sig.Request(ctx, "connectTransport", map[string]any{
				"transportId":    info.ID,
				"dtlsParameters": dtls,
			}, nil)
		},
		produceFn: func(ctx context.Context, kind media.Kind, tag string, params media.RtpParameters) (string, error) {
			var out struct {
				ID string `json:"id"`
			}
			err := c.sig.Request(ctx, "produce", map[string]any{
				"channelId":     channelID,
				"transportId":   info.ID,
				"kind":          string(kind),
				"rtpParameters": params,
				"tag":           tag,
			}, &out)
			return out.ID, err
		},
	}

	c.mu.Lock()
	c.send = t
	c.state = StateJoined
	c.mu.Unlock()
	return nil
}

func (c *Client) produceTrack(ctx context.Context, kind media.Kind, tag string, params media.RtpParameters) (string, error) {
	c.mu.Lock()
	t := c.send
	c.mu.Unlock()
	if t == nil {
		return "", ErrNotJoined
	}
	id, err := t.Produce(ctx, kind, tag, params)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.producers[tag] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) StartMicrophone(ctx context.Context, params media.RtpParameters) (string, error) {
	return c.produceTrack(ctx, media.KindAudio, "mic", params)
}

func (c *Client) StartCamera(ctx context.Context, params media.RtpParameters) (string, error) {
	return c.produceTrack(ctx, media.KindVideo, "camera", params)
}

// StartScreenShare publishes a second video producer tagged as screen.
func (c *Client) StartScreenShare(ctx context.Context, params media.RtpParameters) (string, error) {
	return c.produceTrack(ctx, media.KindVideo, "screen", params)
}

// StopScreenShare closes only the screen producer; the camera producer
// is untouched.
func (c *Client) StopScreenShare(ctx context.Context) error {
	return c.stopTrack(ctx, "screen")
}

func (c *Client) stopTrack(ctx context.Context, tag string) error {
	c.mu.Lock()
	id, ok := c.producers[tag]
	c.mu.Unlock()
	if !ok {
		return ErrNoSuchTrack
	}
	if err := c.request(ctx, "closeProducer", map[string]any{"producerId": id}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.producers, tag)
	c.mu.Unlock()
	return nil
}

// ProducerID reports the live producer for a tag, if any.
func (c *Client) ProducerID(tag string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.producers[tag]
	return id, ok
}

// Leave stops local media, closes local transports and notifies the
// server.
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	channelID := c.channelID
	c.mu.Unlock()
	if channelID == "" {
		return ErrNotJoined
	}
	err := c.request(ctx, "leave-channel", map[string]any{"channelId": channelID}, nil)

	c.mu.Lock()
	c.channelID = ""
	c.send = nil
	c.recvID = ""
	c.producers = make(map[string]string)
	c.consumers = make(map[string]TrackView)
	c.state = StateLeft
	c.mu.Unlock()
	c.dev.Reset()
	return err
}

// ensureRecvTransport lazily creates the single shared receive
// transport. Overlapping newProducer events for multiple remote peers
// wait on the first creation instead of racing their own.
func (c *Client) ensureRecvTransport(ctx context.Context) (string, error) {
	for {
		c.mu.Lock()
		if c.recvID != "" {
			id := c.recvID
			c.mu.Unlock()
			return id, nil
		}
		if c.recvPending != nil {
			wait := c.recvPending
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		pending := make(chan struct{})
		c.recvPending = pending
		channelID := c.channelID
		c.mu.Unlock()

		var info media.TransportInfo
		err := c.request(ctx, "createWebRtcTransport", map[string]any{
			"channelId": channelID,
			"direction": "recv",
		}, &info)

		c.mu.Lock()
		c.recvPending = nil
		if err == nil {
			c.recvID = info.ID
		}
		c.mu.Unlock()
		close(pending)
		if err != nil {
			return "", err
		}
		return info.ID, nil
	}
}

type newProducerEvent struct {
	ProducerID           string `json:"producerId"`
	ProducerPeerID       string `json:"producerPeerId"`
	ProducerPeerSocketID string `json:"producerPeerSocketId"`
	Kind                 string `json:"kind"`
	Tag                  string `json:"tag"`
}

type peerLeftEvent struct {
	SocketID string `json:"socketId"`
	PeerID   string `json:"peerId"`
}

type producerClosedEvent struct {
	ProducerID string `json:"producerId"`
	SocketID   string `json:"socketId"`
}

// HandleEvent reacts to one server push. Safe for concurrent calls.
func (c *Client) HandleEvent(ctx context.Context, event string, data json.RawMessage) error {
	switch event {
	case "newProducer":
		var e newProducerEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("newProducer payload: %w", err)
		}
		return c.onNewProducer(ctx, e)
	case "peerLeft":
		var e peerLeftEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("peerLeft payload: %w", err)
		}
		c.dropPeer(e.SocketID)
		return nil
	case "producerClosed":
		var e producerClosedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("producerClosed payload: %w", err)
		}
		c.dropProducer(e.ProducerID)
		return nil
	default:
		// Presence and chat events are application concerns; the media
		// client ignores what it does not own.
		return nil
	}
}

// onNewProducer builds a consumer for a remote peer's new track: ensure
// the shared receive transport, consume, render, then resume.
func (c *Client) onNewProducer(ctx context.Context, e newProducerEvent) error {
	c.mu.Lock()
	self := c.socketID
	channelID := c.channelID
	c.mu.Unlock()
	if e.ProducerPeerSocketID == self {
		return nil // our own echo
	}
	if channelID == "" {
		return ErrNotJoined
	}

	transportID, err := c.ensureRecvTransport(ctx)
	if err != nil {
		return err
	}

	var out struct {
		ID            string              `json:"id"`
		ProducerID    string              `json:"producerId"`
		Kind          string              `json:"kind"`
		RtpParameters media.RtpParameters `json:"rtpParameters"`
	}
	err = c.request(ctx, "consume", map[string]any{
		"channelId":       channelID,
		"transportId":     transportID,
		"producerId":      e.ProducerID,
		"rtpCapabilities": c.dev.RtpCapabilities(),
	}, &out)
	if err != nil {
		return err
	}

	view := TrackView{
		ConsumerID: out.ID,
		ProducerID: out.ProducerID,
		SocketID:   e.ProducerPeerSocketID,
		PeerID:     e.ProducerPeerID,
		Kind:       media.Kind(out.Kind),
		Tag:        e.Tag,
	}
	c.mu.Lock()
	c.consumers[out.ID] = view
	c.mu.Unlock()

	// Rendering must be wired before any packet can arrive.
	c.renderer.Render(view)

	return c.request(ctx, "resumeConsumer", map[string]any{"consumerId": out.ID}, nil)
}

func (c *Client) dropPeer(socketID string) {
	c.mu.Lock()
	var removed []TrackView
	for id, v := range c.consumers {
		if v.SocketID == socketID {
			delete(c.consumers, id)
			removed = append(removed, v)
		}
	}
	c.mu.Unlock()
	for _, v := range removed {
		c.renderer.Remove(v.SocketID, v.ConsumerID)
	}
}

func (c *Client) dropProducer(producerID string) {
	c.mu.Lock()
	var removed []TrackView
	for id, v := range c.consumers {
		if v.ProducerID == producerID {
			delete(c.consumers, id)
			removed = append(removed, v)
		}
	}
	c.mu.Unlock()
	for _, v := range removed {
		c.renderer.Remove(v.SocketID, v.ConsumerID)
	}
}

// Consumers snapshots the live remote tracks, for UI sync.
func (c *Client) Consumers() []TrackView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TrackView, 0, len(c.consumers))
	for _, v := range c.consumers {
		out = append(out, v)
	}
	return out
}
