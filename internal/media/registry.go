package media

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type roomEntry struct {
	router *Router
	refs   int
}

// Registry allocates routers onto a fixed pool of workers and tracks one
// router per active room. Routers are created lazily on first join,
// reference-counted, and torn down when the last session releases them.
type Registry struct {
	caps     RtpCapabilities
	maxPeers int
	logger   zerolog.Logger

	mu      sync.Mutex
	workers []*Worker
	next    int
	rooms   map[string]*roomEntry
}

func NewRegistry(workers, routersPerWorker, maxPeersPerRoom int) *Registry {
	if workers < 1 {
		workers = 1
	}
	pool := make([]*Worker, workers)
	for i := range pool {
		pool[i] = newWorker(i, routersPerWorker)
	}
	return &Registry{
		caps:     DefaultCapabilities(),
		maxPeers: maxPeersPerRoom,
		logger:   log.With().Str("module", "media.registry").Logger(),
		workers:  pool,
		rooms:    make(map[string]*roomEntry),
	}
}

// Capabilities returns the process-wide codec table shared by every
// router the registry creates.
func (g *Registry) Capabilities() RtpCapabilities { return g.caps }

// GetOrCreateRouter returns the room's router with its reference count
// incremented, creating it on the least-loaded worker if needed. Safe
// under concurrent calls for the same room: exactly one router wins.
func (g *Registry) GetOrCreateRouter(roomID string) (*Router, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.rooms[roomID]; ok {
		if g.maxPeers > 0 && e.refs >= g.maxPeers {
			return nil, ErrRoomFull
		}
		e.refs++
		return e.router, nil
	}

	w := g.pickWorkerLocked()
	if w == nil {
		return nil, ErrNoWorkerCapacity
	}
	w.routers++
	router := newRouter(w, roomID, g.caps)
	g.rooms[roomID] = &roomEntry{router: router, refs: 1}
	g.logger.Info().
		Str("room", roomID).
		Int("worker", w.id).
		Str("router_id", router.id).
		Msg("router created")
	return router, nil
}

// pickWorkerLocked scans round-robin from the cursor for a healthy
// worker with spare capacity.
func (g *Registry) pickWorkerLocked() *Worker {
	n := len(g.workers)
	for i := 0; i < n; i++ {
		w := g.workers[(g.next+i)%n]
		if w.hasCapacity() {
			g.next = (g.next + i + 1) % n
			return w
		}
	}
	return nil
}

// Release decrements the room's reference count. At zero the router is
// closed (force-closing any leaked producers/consumers) and its worker
// slot freed. The caller passes the router it acquired: a release
// against an evicted router is ignored, so it can never drain the
// refcount of a replacement created for the same room id.
func (g *Registry) Release(roomID string, router *Router) {
	g.mu.Lock()
	e, ok := g.rooms[roomID]
	var victim *Router
	if ok && e.router == router {
		e.refs--
		if e.refs <= 0 {
			delete(g.rooms, roomID)
			e.router.worker.routers--
			victim = e.router
		}
	}
	g.mu.Unlock()
	if victim != nil {
		victim.close(TransportClosed)
		g.logger.Info().Str("room", roomID).Msg("router released")
	}
}

// FailWorker marks a worker dead and evicts every room it hosts.
// Clients of those rooms are forced to rejoin against a healthy worker;
// no attempt is made to resurrect in-flight media state.
func (g *Registry) FailWorker(workerID int) {
	g.mu.Lock()
	var victims []*Router
	for _, w := range g.workers {
		if w.id != workerID {
			continue
		}
		w.failed = true
		for roomID, e := range g.rooms {
			if e.router.worker == w {
				delete(g.rooms, roomID)
				victims = append(victims, e.router)
			}
		}
		w.routers = 0
	}
	g.mu.Unlock()
	for _, r := range victims {
		r.close(TransportFailed)
		g.logger.Warn().
			Int("worker", workerID).
			Str("room", r.roomID).
			Msg("room evicted after worker failure")
	}
}

// RouterFor returns the room's router without touching the refcount.
func (g *Registry) RouterFor(roomID string) (*Router, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.rooms[roomID]
	if !ok {
		return nil, false
	}
	return e.router, true
}

// ActiveRooms reports how many routers are live.
func (g *Registry) ActiveRooms() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// ReapIdleTransports sweeps every live router for transports that never
// finished negotiating.
func (g *Registry) ReapIdleTransports(timeout time.Duration) {
	g.mu.Lock()
	routers := make([]*Router, 0, len(g.rooms))
	for _, e := range g.rooms {
		routers = append(routers, e.router)
	}
	g.mu.Unlock()
	now := time.Now()
	for _, r := range routers {
		r.ReapIdleTransports(now, timeout)
	}
}
