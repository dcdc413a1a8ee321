package callbacks

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

const numCB = 10

func TestSequentialCallbacks(t *testing.T) {
	manager := NewSequentialCallbackManager()

	var order []int

	for i := 0; i < numCB; i++ {
		i := i

		manager.RegisterCallback(func(params ...interface{}) error {
			order = append(order, i+params[0].(int))
			return nil
		})
	}

	errs := manager.RunCallbacks(100)

	assert.Empty(t, errs)
	assert.Len(t, order, numCB)

	for i, v := range order {
		assert.Equal(t, 100+i, v, "callbacks must run in registration order")
	}
}

func TestSequentialCallbacksReverse(t *testing.T) {
	manager := NewSequentialCallbackManager().Reverse()

	var order []int

	for i := 0; i < 3; i++ {
		i := i
		manager.RegisterCallback(func(params ...interface{}) error {
			order = append(order, i)
			return nil
		})
	}

	manager.RunCallbacks()
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestSequentialCallbacksDeregister(t *testing.T) {
	manager := NewSequentialCallbackManager()

	calls := 0

	manager.RegisterCallback(func(params ...interface{}) error {
		calls++
		return ErrDeregister
	})

	manager.RegisterCallback(func(params ...interface{}) error {
		return nil
	})

	assert.Empty(t, manager.RunCallbacks())
	assert.Empty(t, manager.RunCallbacks())

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, manager.Len())
}

func TestSequentialCallbacksErrorsAndPanics(t *testing.T) {
	manager := NewSequentialCallbackManager()

	ran := false

	manager.RegisterCallback(func(params ...interface{}) error {
		return errors.New("boom")
	})

	manager.RegisterCallback(func(params ...interface{}) error {
		panic("oops")
	})

	manager.RegisterCallback(func(params ...interface{}) error {
		ran = true
		return nil
	})

	errs := manager.RunCallbacks()

	assert.Len(t, errs, 2)
	assert.True(t, ran, "a failing callback must not stop the ones after it")
	assert.Equal(t, 3, manager.Len())
}

func TestSequentialCallbacksConcurrentRegister(t *testing.T) {
	manager := NewSequentialCallbackManager()

	var wg sync.WaitGroup
	var mu sync.Mutex

	total := 0

	for i := 0; i < numCB; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			manager.RegisterCallback(func(params ...interface{}) error {
				mu.Lock()
				total++
				mu.Unlock()
				return nil
			})
		}()
	}

	wg.Wait()

	manager.RunCallbacks()
	assert.Equal(t, numCB, total)
}
