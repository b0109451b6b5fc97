package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Watcher tracks the network activity of one page. It is fed by the backend's
// event loop and answers two questions: "has a response matching X arrived" and
// "has the network been quiet for a while".
//
// Feeding methods never block, body lookups run on their own goroutine.
type Watcher struct {
	mu           sync.Mutex
	inflight     map[string]string
	lastActivity time.Time
	observers    map[uint64]*Observation
	nextID       uint64

	now  func() time.Time
	poll time.Duration
}

func NewWatcher() *Watcher {
	return &Watcher{
		inflight:     map[string]string{},
		observers:    map[uint64]*Observation{},
		lastActivity: time.Now(),
		now:          time.Now,
		poll:         25 * time.Millisecond,
	}
}

// Observation is a pending wait for a single matching response.
type Observation struct {
	w       *Watcher
	id      uint64
	matcher ResponseMatcher
	// awaiting holds responses that matched on metadata and are waiting on their
	// body, guarded by w.mu.
	awaiting map[string]Response

	result chan Response
	once   sync.Once
}

// Observe registers an observer, it must be called before the action that
// triggers the response.
func (w *Watcher) Observe(m ResponseMatcher) *Observation {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	o := &Observation{
		w:        w,
		id:       w.nextID,
		matcher:  m,
		awaiting: map[string]Response{},
		result:   make(chan Response, 1),
	}
	w.observers[o.id] = o
	return o
}

func (o *Observation) resolve(r Response) {
	o.once.Do(func() {
		o.result <- r
	})
}

// Cancel unregisters the observer, it is safe to call after Wait returned.
func (o *Observation) Cancel() {
	o.w.mu.Lock()
	defer o.w.mu.Unlock()
	delete(o.w.observers, o.id)
}

// Wait blocks until the first matching response, ctx is done or timeout elapses.
func (o *Observation) Wait(ctx context.Context, timeout time.Duration) (Response, error) {
	defer o.Cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-o.result:
		return r, nil
	case <-timer.C:
		return Response{}, fmt.Errorf("waiting for %s: %w", o.matcher, ErrTimeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("waiting for %s: %w", o.matcher, ErrTimeout)
		}
		return Response{}, ctx.Err()
	}
}

func (w *Watcher) touch() {
	w.lastActivity = w.now()
}

func (w *Watcher) RequestStarted(id, method, url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[id] = method
	w.touch()
}

func (w *Watcher) ResponseReceived(r Response) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()

	if r.Method == "" {
		r.Method = w.inflight[r.RequestID]
	}
	for _, o := range w.observers {
		if !o.matcher.MatchMeta(r) {
			continue
		}
		if o.matcher.NeedsBody() {
			o.awaiting[r.RequestID] = r
			continue
		}
		o.resolve(r)
	}
}

// RequestFinished marks the request as done, `body` is only called when an
// observer is waiting on the body of this request.
func (w *Watcher) RequestFinished(id string, body func() (string, error)) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.touch()

	var waiting []*Observation
	var res Response
	for _, o := range w.observers {
		r, ok := o.awaiting[id]
		if !ok {
			continue
		}
		delete(o.awaiting, id)
		waiting = append(waiting, o)
		res = r
	}
	w.mu.Unlock()

	if len(waiting) == 0 {
		return
	}
	go func() {
		text, err := body()
		if err != nil {
			return
		}
		res.Body = text
		for _, o := range waiting {
			if o.matcher.Match(res) {
				o.resolve(res)
			}
		}
	}()
}

func (w *Watcher) RequestFailed(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, id)
	for _, o := range w.observers {
		delete(o.awaiting, id)
	}
	w.touch()
}

// Inflight returns the number of requests that have not finished yet.
func (w *Watcher) Inflight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}

func (w *Watcher) idle(window time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight) == 0 && w.now().Sub(w.lastActivity) >= window
}

// WaitIdle waits until nothing has been in flight for `window`.
func (w *Watcher) WaitIdle(ctx context.Context, window, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		if w.idle(window) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("waiting for network idle (%d in flight): %w", w.Inflight(), ErrTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
