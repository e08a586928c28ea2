package media

import (
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// fanout is the media-path attachment of consumers to one producer.
// It has its own lock so packet forwarding never contends with the
// router's metadata mutex; the router only touches it on attach/detach.
type fanout struct {
	mu   sync.RWMutex
	outs map[string]*Consumer
}

func newFanout() *fanout {
	return &fanout{outs: make(map[string]*Consumer)}
}

func (f *fanout) attach(c *Consumer) {
	f.mu.Lock()
	f.outs[c.id] = c
	f.mu.Unlock()
}

func (f *fanout) detach(consumerID string) {
	f.mu.Lock()
	delete(f.outs, consumerID)
	f.mu.Unlock()
}

// forward writes one packet to every attached consumer. Consumers that
// report themselves closed are pruned afterwards, outside the read lock.
func (f *fanout) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[string]*Consumer, 8)
	f.mu.RLock()
	maps.Copy(snapshot, f.outs)
	f.mu.RUnlock()

	var dirty []string
	for id, c := range snapshot {
		if err := c.writeRTP(pkt); err != nil {
			if err == ErrConsumerClosed {
				dirty = append(dirty, id)
				continue
			}
			logger.Error().Err(err).Str("consumer_id", id).Msg("forward write error")
		}
	}

	if len(dirty) > 0 {
		f.mu.Lock()
		for _, id := range dirty {
			delete(f.outs, id)
		}
		f.mu.Unlock()
	}
}
