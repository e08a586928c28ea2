package media

// Worker is one slot of the fixed media-processing pool. Routers are
// placed onto workers by the Registry; a failed worker takes every
// router it hosts down with it.
//
// The load counter is mutated only by the Registry under the registry
// lock, so Worker itself carries no mutex.
type Worker struct {
	id         int
	routers    int
	maxRouters int
	failed     bool
}

func newWorker(id, maxRouters int) *Worker {
	return &Worker{id: id, maxRouters: maxRouters}
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) hasCapacity() bool {
	return !w.failed && w.routers < w.maxRouters
}
