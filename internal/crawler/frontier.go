package crawler

// frontier is a FIFO queue of discovered URLs. seen holds every URL ever
// queued, so a URL is queued at most once per crawl: visited pages and
// pages that failed to load never come back.
type frontier struct {
	queue []string
	seen  map[string]bool
}

func newFrontier(seed string) *frontier {
	return &frontier{queue: []string{seed}, seen: map[string]bool{seed: true}}
}

func (f *frontier) Len() int { return len(f.queue) }

func (f *frontier) Pop() string {
	u := f.queue[0]
	f.queue = f.queue[1:]
	return u
}

// Push queues u unless it was queued before. It reports whether u was added.
func (f *frontier) Push(u string) bool {
	if f.seen[u] {
		return false
	}
	f.seen[u] = true
	f.queue = append(f.queue, u)
	return true
}

// Contains reports whether u is waiting in the queue.
func (f *frontier) Contains(u string) bool {
	for _, q := range f.queue {
		if q == u {
			return true
		}
	}
	return false
}
