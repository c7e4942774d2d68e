package gitcli

import "sync"

// PathLocks serializes git operations per working tree. A clone is a
// global resource: two concurrent operations on the same path corrupt
// the index, so every caller that touches a clone must hold its lock.
// Different paths proceed in parallel. One instance is shared by every
// component that runs git.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPathLocks() *PathLocks {
	return &PathLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for path, creating it on first use. Returns
// the unlock func.
func (p *PathLocks) Lock(path string) func() {
	p.mu.Lock()
	l, ok := p.locks[path]
	if !ok {
		l = &sync.Mutex{}
		p.locks[path] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
