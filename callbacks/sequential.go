package callbacks

import (
	"sync"

	"github.com/pkg/errors"
)

// SequentialCallbackManager runs its callbacks one after the other in registration order, or in reverse order
// should Reverse have been called.
type SequentialCallbackManager struct {
	sync.Mutex

	callbacks []*Callback
	reverse   bool
}

func NewSequentialCallbackManager() *SequentialCallbackManager {
	return &SequentialCallbackManager{}
}

// Reverse makes callbacks registered from now on run before those registered earlier.
func (m *SequentialCallbackManager) Reverse() *SequentialCallbackManager {
	m.Lock()
	m.reverse = true
	m.Unlock()

	return m
}

func (m *SequentialCallbackManager) RegisterCallback(c Callback) {
	m.Lock()

	if m.reverse {
		m.callbacks = append([]*Callback{&c}, m.callbacks...)
	} else {
		m.callbacks = append(m.callbacks, &c)
	}

	m.Unlock()
}

// Len returns the number of callbacks currently registered.
func (m *SequentialCallbackManager) Len() int {
	m.Lock()
	defer m.Unlock()

	return len(m.callbacks)
}

// RunCallbacks runs all callbacks against params. A callback returning ErrDeregister is removed. Other errors, and
// panics, are collected and returned; the callbacks that raised them stay registered.
func (m *SequentialCallbackManager) RunCallbacks(params ...interface{}) (errs []error) {
	m.Lock()
	cpy := make([]*Callback, len(m.callbacks))
	copy(cpy, m.callbacks)
	m.Unlock()

	var removed []*Callback

	for _, c := range cpy {
		err := run(*c, params)

		switch {
		case err == nil:
		case errors.Is(err, ErrDeregister):
			removed = append(removed, c)
		default:
			errs = append(errs, err)
		}
	}

	if len(removed) == 0 {
		return
	}

	m.Lock()

	remaining := m.callbacks[:0:0]

	for _, c := range m.callbacks {
		keep := true
		for _, r := range removed {
			if c == r {
				keep = false
				break
			}
		}

		if keep {
			remaining = append(remaining, c)
		}
	}

	m.callbacks = remaining

	m.Unlock()

	return
}

func run(c Callback, params []interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("callback panicked: %v", r)
		}
	}()

	return c(params...)
}
