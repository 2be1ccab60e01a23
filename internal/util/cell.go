package util

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCellSet is returned when a cell is set twice
var ErrCellSet = errors.New("cell already set")

// ErrCellTimeout is returned when a timed get expires
var ErrCellTimeout = errors.New("timeout")

// Cell is a one-shot container; getters block until the value is set.
// Every getter observes the same value.
type Cell[T any] struct {
	mu    sync.Mutex
	done  chan struct{}
	value T
	set   bool
}

// NewCell creates an empty cell
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{done: make(chan struct{})}
}

// Set stores the value and wakes all getters
func (c *Cell[T]) Set(value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.set {
		return ErrCellSet
	}
	c.set = true
	c.value = value
	close(c.done)
	return nil
}

// IsSet reports whether the value has been stored
func (c *Cell[T]) IsSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set
}

// Done returns a channel closed once the value is set
func (c *Cell[T]) Done() <-chan struct{} {
	return c.done
}

// Get blocks until the value is set
func (c *Cell[T]) Get() T {
	<-c.done
	return c.value
}

// GetWithTimeout gets the value with a timeout
func (c *Cell[T]) GetWithTimeout(timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return c.value, nil
	case <-timer.C:
		var zero T
		return zero, ErrCellTimeout
	}
}

// GetWithContext gets the value or returns the context error
func (c *Cell[T]) GetWithContext(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
