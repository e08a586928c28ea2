package client

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/nhan2892005/study-space-media/internal/media"
)

// SendTransport mirrors the server's send transport. The underlying
// local transport surfaces "connect" and "produce" as asynchronous
// callback points; here each is modeled as a request/response with a
// bounded timeout and a single in-flight request per event type, so a
// stalled round-trip times out instead of wedging the transport.
type SendTransport struct {
	id      string
	dtls    webrtc.DTLSParameters
	timeout time.Duration

	connectFn func(ctx context.Context, dtls webrtc.DTLSParameters) error
	produceFn func(ctx context.Context, kind media.Kind, tag string, params media.RtpParameters) (string, error)

	connectMu sync.Mutex
	connected bool
	produceMu sync.Mutex
}

func (t *SendTransport) ID() string { return t.id }

// ensureConnected performs the connectTransport round-trip on the first
// produce attempt. Concurrent callers serialize; only one connect is
// ever in flight.
func (t *SendTransport) ensureConnected(ctx context.Context) error {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()
	if t.connected {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.connectFn(ctx, t.dtls); err != nil {
		return err
	}
	t.connected = true
	return nil
}

// Produce announces one new local track and returns the server-assigned
// producer id.
func (t *SendTransport) Produce(ctx context.Context, kind media.Kind, tag string, params media.RtpParameters) (string, error) {
	if err := t.ensureConnected(ctx); err != nil {
		return "", err
	}
	t.produceMu.Lock()
	defer t.produceMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.produceFn(ctx, kind, tag, params)
}
