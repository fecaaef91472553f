package k8s

import "sync"

// lazyValue provides thread-safe lazy initialization for any type.
// It uses double-check locking so the common already-initialized path only
// takes a read lock.
type lazyValue[T any] struct {
	mu    sync.RWMutex
	value T
	set   bool
}

// Get returns the cached value if set, otherwise calls initFn to create it.
//
// initFn runs at most once per successful initialization, even with
// concurrent callers. An error is returned to the caller and not cached, so
// the next Get retries.
func (l *lazyValue[T]) Get(initFn func() (T, error)) (T, error) {
	l.mu.RLock()
	if l.set {
		v := l.value
		l.mu.RUnlock()
		return v, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.set {
		return l.value, nil
	}

	v, err := initFn()
	if err != nil {
		var zero T
		return zero, err
	}

	l.value = v
	l.set = true
	return v, nil
}
