package capture

import (
	"os/exec"
	"sync"
	"syscall"
)

// processRegistry tracks live capture processes by recording id so an
// explicit stop request can find and terminate them. Guarded because the
// supervisor goroutine and the stop path touch it concurrently.
type processRegistry struct {
	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

func newProcessRegistry() *processRegistry {
	return &processRegistry{procs: make(map[string]*exec.Cmd)}
}

func (r *processRegistry) add(id string, cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[id] = cmd
}

// remove drops the entry and reports whether it was still present; a
// false return means stop already claimed it.
func (r *processRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.procs[id]
	delete(r.procs, id)
	return ok
}

// stop removes and signals the process for the given recording id.
// Reports whether a live process was found.
func (r *processRegistry) stop(id string) bool {
	r.mu.Lock()
	cmd, ok := r.procs[id]
	delete(r.procs, id)
	r.mu.Unlock()

	if !ok || cmd == nil || cmd.Process == nil {
		return false
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	return true
}

func (r *processRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}
