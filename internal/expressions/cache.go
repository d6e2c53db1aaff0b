package expressions

import "sync"

// maxPrograms bounds each engine's compiled-program cache. A full cache is
// emptied and refilled on demand.
const maxPrograms = 1024

// programCache holds compiled programs keyed by source text.
type programCache[T any] struct {
	mu       sync.RWMutex
	programs map[string]T
	limit    int
}

func newProgramCache[T any](limit int) *programCache[T] {
	return &programCache[T]{programs: make(map[string]T), limit: limit}
}

// getOrCompile returns the cached program for key, compiling and storing it on a
// miss. Failed compilations are not cached.
func (c *programCache[T]) getOrCompile(key string, compile func() (T, error)) (T, error) {
	c.mu.RLock()
	prg, ok := c.programs[key]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.programs[key]; ok {
		return prg, nil
	}
	prg, err := compile()
	if err != nil {
		return prg, err
	}
	if len(c.programs) >= c.limit {
		clear(c.programs)
	}
	c.programs[key] = prg
	return prg, nil
}

func (c *programCache[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}
