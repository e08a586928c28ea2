package media

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

type TransportState string

const (
	TransportNew        TransportState = "new"
	TransportConnecting TransportState = "connecting"
	TransportConnected  TransportState = "connected"
	TransportClosed     TransportState = "closed"
	TransportFailed     TransportState = "failed"
)

// ICECandidate is the wire shape of a server-side host candidate.
type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Protocol   string `json:"protocol"`
}

// TransportInfo carries the connection parameters returned to the
// client from createWebRtcTransport.
type TransportInfo struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []ICECandidate        `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// Transport is one peer's secured endpoint for a single direction.
// Producer/consumer membership is owned by the Router; the transport's
// own mutex protects only its negotiation state.
type Transport struct {
	id        string
	direction Direction
	owner     string // session id
	info      TransportInfo
	createdAt time.Time

	mu          sync.Mutex
	state       TransportState
	remoteDTLS  *webrtc.DTLSParameters
	onClosed    func(state TransportState)
	producerIDs map[string]struct{}
	consumerIDs map[string]struct{}
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func newTransport(owner string, direction Direction) *Transport {
	id := uuid.NewString()
	t := &Transport{
		id:        id,
		direction: direction,
		owner:     owner,
		createdAt: time.Now(),
		state:     TransportNew,
		info: TransportInfo{
			ID: id,
			ICEParameters: webrtc.ICEParameters{
				UsernameFragment: randHex(8),
				Password:         randHex(16),
				ICELite:          true,
			},
			ICECandidates: []ICECandidate{{
				Foundation: "udpcandidate",
				Priority:   1 << 24,
				IP:         "0.0.0.0",
				Port:       0,
				Protocol:   "udp",
			}},
			DTLSParameters: webrtc.DTLSParameters{
				Role: webrtc.DTLSRoleAuto,
				Fingerprints: []webrtc.DTLSFingerprint{{
					Algorithm: "sha-256",
					Value:     fmt.Sprintf("%s:%s", randHex(4), randHex(27)),
				}},
			},
		},
		producerIDs: make(map[string]struct{}),
		consumerIDs: make(map[string]struct{}),
	}
	return t
}

func (t *Transport) ID() string           { return t.id }
func (t *Transport) Direction() Direction { return t.direction }
func (t *Transport) Owner() string        { return t.owner }
func (t *Transport) Info() TransportInfo  { return t.info }

func (t *Transport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnClosed registers a callback fired once when the transport leaves
// the connected/new states for closed or failed.
func (t *Transport) OnClosed(fn func(state TransportState)) {
	t.mu.Lock()
	t.onClosed = fn
	t.mu.Unlock()
}

// connect completes the DTLS handshake. Valid exactly once; a second
// call is a protocol error and leaves the transport untouched.
func (t *Transport) connect(remote webrtc.DTLSParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case TransportNew, TransportConnecting:
		t.state = TransportConnecting
		t.remoteDTLS = &remote
		t.state = TransportConnected
		return nil
	case TransportConnected:
		return ErrAlreadyConnected
	default:
		return ErrTransportClosed
	}
}

// shutdown moves the transport to a terminal state and returns the
// callback to invoke (outside any router lock). Idempotent.
func (t *Transport) shutdown(to TransportState) func(TransportState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TransportClosed || t.state == TransportFailed {
		return nil
	}
	t.state = to
	fn := t.onClosed
	t.onClosed = nil
	if fn == nil {
		return nil
	}
	return fn
}

// idleSince reports whether the transport has sat unconnected longer
// than the timeout. Used by the reaper for clients that vanished
// mid-negotiation.
func (t *Transport) idleSince(now time.Time, timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TransportNew && t.state != TransportConnecting {
		return false
	}
	return now.Sub(t.createdAt) > timeout
}
