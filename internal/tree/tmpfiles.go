package tree

import (
	"os"
	"sync"
)

// inflight tracks temp files of writes in flight, so an interrupted restore
// can remove them.
var inflight = &tmpRegistry{}

type tmpRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func (r *tmpRegistry) add(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paths == nil {
		r.paths = make(map[string]struct{})
	}
	r.paths[path] = struct{}{}
}

func (r *tmpRegistry) remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, path)
}

func (r *tmpRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

// CleanupTemp removes the temp files of every write still in flight and
// returns how many it removed. Call it after cancelling a restore.
func CleanupTemp() int {
	inflight.mu.Lock()
	paths := make([]string, 0, len(inflight.paths))
	for p := range inflight.paths {
		paths = append(paths, p)
	}
	inflight.paths = nil
	inflight.mu.Unlock()

	n := 0
	for _, p := range paths {
		if os.Remove(p) == nil {
			n++
		}
	}
	return n
}
