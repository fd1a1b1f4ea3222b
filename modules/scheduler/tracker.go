package scheduler

import (
	"context"
	"sync"
)

// tracker registers running executions by lock id so shutdown can cancel
// the stragglers and the dispatcher can bound in-flight runs per loader.
type tracker struct {
	mtx  sync.Mutex
	runs map[string]trackedRun
}

type trackedRun struct {
	loaderCode string
	cancel     context.CancelFunc
}

func newTracker() *tracker {
	return &tracker{runs: map[string]trackedRun{}}
}

func (t *tracker) register(lockID, loaderCode string, cancel context.CancelFunc) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.runs[lockID] = trackedRun{loaderCode: loaderCode, cancel: cancel}
}

func (t *tracker) unregister(lockID string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	delete(t.runs, lockID)
}

func (t *tracker) inFlight(loaderCode string) int {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	n := 0
	for _, r := range t.runs {
		if r.loaderCode == loaderCode {
			n++
		}
	}
	return n
}

func (t *tracker) len() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return len(t.runs)
}

func (t *tracker) cancelAll() {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	for _, r := range t.runs {
		r.cancel()
	}
}
