// Package frontier implements the crawl work queue with its seen set.
package frontier

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultPollInterval bounds how long Dequeue blocks so workers can re-check
// pause and stop between pulls.
const DefaultPollInterval = 250 * time.Millisecond

// Entry is a queued URL plus the number of network retries already spent.
// URL is the normalized key; Target, when set, is the address to request.
type Entry struct {
	URL     string
	Target  string
	Attempt int
}

// FetchURL returns the address a worker should request.
func (e Entry) FetchURL() string {
	if e.Target != "" {
		return e.Target
	}
	return e.URL
}

// Frontier is a FIFO of normalized URLs guarded by one mutex. Each URL is
// accepted at most once; Requeue is the only way a seen URL re-enters.
type Frontier struct {
	mu       sync.Mutex
	queue    *list.List
	seen     map[string]struct{}
	limit    int
	inFlight int
	ready    chan struct{}
	drained  chan struct{}
	done     bool
}

// New builds a Frontier whose seen set never grows past limit. A limit of
// zero or less means unbounded.
func New(limit int) *Frontier {
	return &Frontier{
		queue:   list.New(),
		seen:    make(map[string]struct{}),
		limit:   limit,
		ready:   make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
}

// DiscoveryLimit derives the seen-set cap from the page budget, leaving slack
// for links discovered by workers that are still in flight.
func DiscoveryLimit(maxPages, workers int) int {
	if maxPages <= 0 {
		return 0
	}
	return max(maxPages*2, maxPages+workers)
}

// Enqueue adds url when it is new and the cap allows. It reports whether the
// URL was accepted.
func (f *Frontier) Enqueue(url string) bool {
	return f.EnqueueTarget(url, "")
}

// EnqueueTarget is Enqueue for a link whose request address differs from its
// normalized key, e.g. a directory URL with its trailing slash.
func (f *Frontier) EnqueueTarget(url, target string) bool {
	if url == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return false
	}
	if _, ok := f.seen[url]; ok {
		return false
	}
	if f.limit > 0 && len(f.seen) >= f.limit {
		return false
	}
	f.seen[url] = struct{}{}
	if target == url {
		target = ""
	}
	f.queue.PushBack(Entry{URL: url, Target: target})
	f.signal()
	return true
}

// MarkSeen records url without queueing it, e.g. a redirect target.
func (f *Frontier) MarkSeen(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[url]; ok {
		return false
	}
	f.seen[url] = struct{}{}
	return true
}

// Requeue puts an already-seen entry back at the tail, typically for retry.
// The caller must still call Done for the dequeue that produced entry.
func (f *Frontier) Requeue(entry Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	f.seen[entry.URL] = struct{}{}
	f.queue.PushBack(entry)
	f.signal()
}

// Dequeue pops the head entry, waiting at most wait for one to arrive. It
// returns false on timeout, cancellation or once the frontier has drained.
func (f *Frontier) Dequeue(ctx context.Context, wait time.Duration) (Entry, bool) {
	if wait <= 0 {
		wait = DefaultPollInterval
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		f.mu.Lock()
		if front := f.queue.Front(); front != nil {
			f.queue.Remove(front)
			f.inFlight++
			if f.queue.Len() > 0 {
				f.signal()
			}
			f.mu.Unlock()
			entry, _ := front.Value.(Entry)
			return entry, true
		}
		finished := f.done
		f.mu.Unlock()
		if finished {
			return Entry{}, false
		}
		select {
		case <-f.ready:
		case <-f.drained:
			return Entry{}, false
		case <-timer.C:
			return Entry{}, false
		case <-ctx.Done():
			return Entry{}, false
		}
	}
}

// Done marks a dequeued entry as finished. When nothing is queued or in flight
// the frontier is drained and Drained's channel closes.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	if f.inFlight == 0 && f.queue.Len() == 0 && !f.done {
		f.done = true
		close(f.drained)
	}
}

// Drained closes once all accepted work has been processed.
func (f *Frontier) Drained() <-chan struct{} {
	return f.drained
}

// Pending returns queued plus in-flight entries.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len() + f.inFlight
}

// SeenCount returns the number of distinct URLs accepted so far.
func (f *Frontier) SeenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// Seen reports whether url has been accepted.
func (f *Frontier) Seen(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[url]
	return ok
}

func (f *Frontier) signal() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}
