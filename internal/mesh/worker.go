package mesh

import "sync"

// worker runs engine calls for a single link in submission order.
type worker interface {
	do(fn func())
	// stop drops queued jobs, runs final after the job in flight and exits.
	stop(final func())
}

type serialWorker struct {
	mu      sync.Mutex
	jobs    []func()
	stopped bool
	wake    chan struct{}
}

func newSerialWorker() worker {
	w := &serialWorker{wake: make(chan struct{}, 1)}
	go w.run()
	return w
}

func (w *serialWorker) do(fn func()) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.jobs = append(w.jobs, fn)
	w.mu.Unlock()
	w.signal()
}

func (w *serialWorker) stop(final func()) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.jobs = nil
	if final != nil {
		w.jobs = append(w.jobs, final)
	}
	w.mu.Unlock()
	w.signal()
}

func (w *serialWorker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *serialWorker) run() {
	for range w.wake {
		for {
			w.mu.Lock()
			if len(w.jobs) == 0 {
				stopped := w.stopped
				w.mu.Unlock()
				if stopped {
					return
				}
				break
			}
			fn := w.jobs[0]
			w.jobs = w.jobs[1:]
			w.mu.Unlock()

			fn()
		}
	}
}
