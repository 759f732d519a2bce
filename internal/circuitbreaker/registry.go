package circuitbreaker

import (
	"sync"
	"time"
)

// Registry hands out one breaker per sink name.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
	}
}

func (r *Registry) GetBreaker(name string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.threshold, r.timeout)
	r.breakers[name] = cb
	return cb
}

func (r *Registry) Stats() map[string]string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.State().String()
	}
	return stats
}
