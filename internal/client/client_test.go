package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/nhan2892005/study-space-media/internal/media"
)

// fakeSignaler scripts server responses per request type and records the
// order of every round-trip.
type fakeSignaler struct {
	mu       sync.Mutex
	calls    []string
	handlers map[string]func(data map[string]any) (any, error)
	blocked  chan struct{} // non-nil: every request waits here or on ctx
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{handlers: make(map[string]func(data map[string]any) (any, error))}
}

func (f *fakeSignaler) on(typ string, fn func(data map[string]any) (any, error)) {
	f.handlers[typ] = fn
}

func (f *fakeSignaler) Request(ctx context.Context, typ string, data, out any) error {
	if f.blocked != nil {
		select {
		case <-f.blocked:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var m map[string]any
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, typ)
	fn := f.handlers[typ]
	f.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("unexpected request %q", typ)
	}
	res, err := fn(m)
	if err != nil {
		return err
	}
	if out != nil && res != nil {
		b, err := json.Marshal(res)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, out)
	}
	return nil
}

func (f *fakeSignaler) count(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == typ {
			n++
		}
	}
	return n
}

type fakeRenderer struct {
	mu       sync.Mutex
	rendered []TrackView
	removed  []string // consumer ids
}

func (r *fakeRenderer) Render(v TrackView) {
	r.mu.Lock()
	r.rendered = append(r.rendered, v)
	r.mu.Unlock()
}

func (r *fakeRenderer) Remove(_, consumerID string) {
	r.mu.Lock()
	r.removed = append(r.removed, consumerID)
	r.mu.Unlock()
}

func vp8Params(ssrc uint32) media.RtpParameters {
	return media.RtpParameters{
		Codec: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		SSRC:  ssrc,
	}
}

// scriptServer wires the standard happy-path handlers.
func scriptServer(sig *fakeSignaler) {
	sig.on("join-channel", func(m map[string]any) (any, error) {
		return map[string]any{"channelId": m["channelId"], "socketId": "sock-self"}, nil
	})
	sig.on("getRouterRtpCapabilities", func(map[string]any) (any, error) {
		return map[string]any{"rtpCapabilities": media.DefaultCapabilities()}, nil
	})
	sig.on("createWebRtcTransport", func(map[string]any) (any, error) {
		return media.TransportInfo{ID: uuid.NewString()}, nil
	})
	sig.on("connectTransport", func(map[string]any) (any, error) { return nil, nil })
	sig.on("produce", func(map[string]any) (any, error) {
		return map[string]any{"id": uuid.NewString()}, nil
	})
	sig.on("consume", func(m map[string]any) (any, error) {
		return map[string]any{
			"id":         uuid.NewString(),
			"producerId": m["producerId"],
			"kind":       "video",
		}, nil
	})
	sig.on("resumeConsumer", func(map[string]any) (any, error) { return nil, nil })
	sig.on("closeProducer", func(map[string]any) (any, error) { return nil, nil })
	sig.on("leave-channel", func(map[string]any) (any, error) { return nil, nil })
}

func joinedClient(t *testing.T, sig *fakeSignaler) *Client {
	t.Helper()
	c := New(sig, &fakeRenderer{}, NewDevice(media.RtpCapabilities{}), time.Second)
	ctx := context.Background()
	if err := c.Join(ctx, "R1", "S1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.SetupDevice(ctx); err != nil {
		t.Fatalf("setup device: %v", err)
	}
	return c
}

func TestSetupDeviceLoadsOnce(t *testing.T) {
	sig := newFakeSignaler()
	scriptServer(sig)
	c := joinedClient(t, sig)

	// Loading again while loaded is a no-op round-trip-wise.
	if err := c.SetupDevice(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := sig.count("getRouterRtpCapabilities"); got != 1 {
		t.Fatalf("capability fetches = %d, want 1", got)
	}
	if !c.Device().CanProduce(media.KindVideo) || !c.Device().CanProduce(media.KindAudio) {
		t.Fatal("device cannot produce after load")
	}
}

func TestSetupDeviceRequiresJoin(t *testing.T) {
	sig := newFakeSignaler()
	scriptServer(sig)
	c := New(sig, &fakeRenderer{}, NewDevice(media.RtpCapabilities{}), time.Second)
	if err := c.SetupDevice(context.Background()); err != ErrNotJoined {
		t.Fatalf("err = %v, want ErrNotJoined", err)
	}
}

func TestCreateSendTransportRequiresLoadedDevice(t *testing.T) {
	sig := newFakeSignaler()
	scriptServer(sig)
	c := New(sig, &fakeRenderer{}, NewDevice(media.RtpCapabilities{}), time.Second)
	if err := c.CreateSendTransport(context.Background()); err != ErrDeviceNotLoaded {
		t.Fatalf("err = %v, want ErrDeviceNotLoaded", err)
	}
}

func TestStopScreenShareLeavesCamera(t *testing.T) {
	sig := newFakeSignaler()
	scriptServer(sig)

	var closedProducer string
	sig.on("closeProducer", func(m map[string]any) (any, error) {
		closedProducer, _ = m["producerId"].(string)
		return nil, nil
	})

	c := joinedClient(t, sig)
	ctx := context.Background()
	if err := c.CreateSendTransport(ctx); err != nil {
		t.Fatal(err)
	}

	cameraID, err := c.StartCamera(ctx, vp8Params(1))
	if err != nil {
		t.Fatal(err)
	}
	screenID, err := c.StartScreenShare(ctx, vp8Params(2))
	if err != nil {
		t.Fatal(err)
	}

	if err := c.StopScreenShare(ctx); err != nil {
		t.Fatal(err)
	}
	if closedProducer != screenID {
		t.Fatalf("closed producer %s, want %s", closedProducer, screenID)
	}
	if _, ok := c.ProducerID("screen"); ok {
		t.Fatal("screen producer still tracked")
	}
	if id, ok := c.ProducerID("camera"); !ok || id != cameraID {
		t.Fatalf("camera producer = %s/%v, want %s", id, ok, cameraID)
	}

	// Stopping again reports the missing track.
	if err := c.StopScreenShare(ctx); err != ErrNoSuchTrack {
		t.Fatalf("second stop err = %v, want ErrNoSuchTrack", err)
	}
}

func TestSendTransportConnectsLazilyAndOnce(t *testing.T) {
	sig := newFakeSignaler()
	scriptServer(sig)
	c := joinedClient(t, sig)
	ctx := context.Background()
	if err := c.CreateSendTransport(ctx); err != nil {
		t.Fatal(err)
	}
	if got := sig.count("connectTransport"); got != 0 {
		t.Fatalf("connectTransport before first produce = %d, want 0", got)
	}

	if _, err := c.StartCamera(ctx, vp8Params(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.StartMicrophone(ctx, media.RtpParameters{
		Codec: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		SSRC:  2,
	}); err != nil {
		t.Fatal(err)
	}
	if got := sig.count("connectTransport"); got != 1 {
		t.Fatalf("connectTransport calls = %d, want 1", got)
	}
	if got := sig.count("produce"); got != 2 {
		t.Fatalf("produce calls = %d, want 2", got)
	}
}

func TestConcurrentNewProducersShareRecvTransport(t *testing.T) {
	sig := newFakeSignaler()
	scriptServer(sig)

	var recvCreates atomic.Int32
	sig.on("createWebRtcTransport", func(m map[string]any) (any, error) {
		if m["direction"] == "recv" {
			recvCreates.Add(1)
			// Widen the race window for the overlapping events.
			time.Sleep(20 * time.Millisecond)
		}
		return media.TransportInfo{ID: uuid.NewString()}, nil
	})

	renderer := &fakeRenderer{}
	c := New(sig, renderer, NewDevice(media.RtpCapabilities{}), time.Second)
	ctx := context.Background()
	if err := c.Join(ctx, "R1", "S1"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetupDevice(ctx); err != nil {
		t.Fatal(err)
	}

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, _ := json.Marshal(map[string]any{
				"producerId":           fmt.Sprintf("prod-%d", i),
				"producerPeerId":       "peer",
				"producerPeerSocketId": "sock-peer",
				"kind":                 "video",
				"tag":                  "camera",
			})
			if err := c.HandleEvent(ctx, "newProducer", data); err != nil {
				t.Errorf("event %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := recvCreates.Load(); got != 1 {
		t.Fatalf("recv transports created = %d, want 1", got)
	}
	if got := sig.count("consume"); got != n {
		t.Fatalf("consume calls = %d, want %d", got, n)
	}
	if got := sig.count("resumeConsumer"); got != n {
		t.Fatalf("resumeConsumer calls = %d, want %d", got, n)
	}
	renderer.mu.Lock()
	defer renderer.mu.Unlock()
	if len(renderer.rendered) != n {
		t.Fatalf("rendered tracks = %d, want %d", len(renderer.rendered), n)
	}
}

func TestOwnProducerEchoIgnored(t *testing.T) {
	sig := newFakeSignaler()
	scriptServer(sig)
	c := joinedClient(t, sig)

	data, _ := json.Marshal(map[string]any{
		"producerId":           "prod-1",
		"producerPeerSocketId": "sock-self",
		"kind":                 "video",
	})
	if err := c.HandleEvent(context.Background(), "newProducer", data); err != nil {
		t.Fatal(err)
	}
	if got := sig.count("consume"); got != 0 {
		t.Fatalf("consume calls for own echo = %d, want 0", got)
	}
	if got := sig.count("createWebRtcTransport"); got != 0 {
		t.Fatalf("transports created for own echo = %d, want 0", got)
	}
}

func TestPeerLeftRemovesAllTheirTracks(t *testing.T) {
	sig := newFakeSignaler()
	scriptServer(sig)
	renderer := &fakeRenderer{}
	c := New(sig, renderer, NewDevice(media.RtpCapabilities{}), time.Second)
	ctx := context.Background()
	if err := c.Join(ctx, "R1", "S1"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetupDevice(ctx); err != nil {
		t.Fatal(err)
	}

	for _, pid := range []string{"prod-a", "prod-b"} {
		data, _ := json.Marshal(map[string]any{
			"producerId":           pid,
			"producerPeerId":       "peer",
			"producerPeerSocketId": "sock-peer",
			"kind":                 "video",
			"tag":                  "camera",
		})
		if err := c.HandleEvent(ctx, "newProducer", data); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(c.Consumers()); got != 2 {
		t.Fatalf("consumers = %d, want 2", got)
	}

	data, _ := json.Marshal(map[string]any{"socketId": "sock-peer", "peerId": "peer"})
	if err := c.HandleEvent(ctx, "peerLeft", data); err != nil {
		t.Fatal(err)
	}
	if got := len(c.Consumers()); got != 0 {
		t.Fatalf("consumers after peerLeft = %d, want 0", got)
	}
	renderer.mu.Lock()
	defer renderer.mu.Unlock()
	if got := len(renderer.removed); got != 2 {
		t.Fatalf("removed views = %d, want 2", got)
	}
}

func TestProducerClosedRemovesOneTrack(t *testing.T) {
	sig := newFakeSignaler()
	scriptServer(sig)
	c := joinedClient(t, sig)
	ctx := context.Background()

	for _, pid := range []string{"prod-a", "prod-b"} {
		data, _ := json.Marshal(map[string]any{
			"producerId":           pid,
			"producerPeerSocketId": "sock-peer",
			"kind":                 "video",
		})
		if err := c.HandleEvent(ctx, "newProducer", data); err != nil {
			t.Fatal(err)
		}
	}

	data, _ := json.Marshal(map[string]any{"producerId": "prod-a", "socketId": "sock-peer"})
	if err := c.HandleEvent(ctx, "producerClosed", data); err != nil {
		t.Fatal(err)
	}
	left := c.Consumers()
	if len(left) != 1 || left[0].ProducerID != "prod-b" {
		t.Fatalf("remaining consumers = %+v, want only prod-b", left)
	}
}

func TestBlockedSignalerTimesOut(t *testing.T) {
	sig := newFakeSignaler()
	scriptServer(sig)
	sig.blocked = make(chan struct{}) // never released

	c := New(sig, &fakeRenderer{}, NewDevice(media.RtpCapabilities{}), 50*time.Millisecond)
	err := c.Join(context.Background(), "R1", "S1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestLeaveResetsState(t *testing.T) {
	sig := newFakeSignaler()
	scriptServer(sig)
	c := joinedClient(t, sig)
	ctx := context.Background()
	if err := c.CreateSendTransport(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.StartCamera(ctx, vp8Params(1)); err != nil {
		t.Fatal(err)
	}

	if err := c.Leave(ctx); err != nil {
		t.Fatal(err)
	}
	if st := c.State(); st != StateLeft {
		t.Fatalf("state = %d, want StateLeft", st)
	}
	if c.Device().Loaded() {
		t.Fatal("device still loaded after leave")
	}
	if _, ok := c.ProducerID("camera"); ok {
		t.Fatal("producer tracked after leave")
	}
	if err := c.Leave(ctx); err != ErrNotJoined {
		t.Fatalf("second leave err = %v, want ErrNotJoined", err)
	}
}
