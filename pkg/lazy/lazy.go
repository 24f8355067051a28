// Package lazy builds expensive process-wide resources on first use. All
// callers that arrive while a construction is in flight wait for that same
// construction instead of starting their own.
package lazy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrAlreadyInitialized may be returned by an init function, together with
// the existing value, when the underlying client reports that it was set up
// already. Get treats that as success.
var ErrAlreadyInitialized = errors.New("already initialized")

// ErrNoValue is returned by Get when init reported ErrAlreadyInitialized but
// handed back the zero value. Nothing is cached and the next Get retries.
var ErrNoValue = errors.New("init reported already initialized without a value")

// InitFunc constructs the value. Returning ErrAlreadyInitialized requires a
// non-zero value alongside it.
type InitFunc[T any] func(ctx context.Context) (T, error)

// Value holds a lazily constructed T.
type Value[T any] struct {
	init  InitFunc[T]
	group singleflight.Group

	mu    sync.RWMutex
	ready bool
	value T
}

// New returns a Value that runs init on first Get.
func New[T any](init InitFunc[T]) *Value[T] {
	return &Value[T]{init: init}
}

// Get returns the value, constructing it if needed. A failed construction is
// reported to every caller that waited on it; the next Get tries again.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	if value, ok := v.loaded(); ok {
		return value, nil
	}

	res, err, _ := v.group.Do("init", func() (any, error) {
		if value, ok := v.loaded(); ok {
			return value, nil
		}
		// Shared construction outlives any one caller's cancellation.
		value, err := v.init(context.WithoutCancel(ctx))
		if err != nil && !errors.Is(err, ErrAlreadyInitialized) {
			return nil, err
		}
		if err != nil && reflect.ValueOf(&value).Elem().IsZero() {
			return nil, fmt.Errorf("%w: %w", ErrNoValue, err)
		}
		v.mu.Lock()
		v.value = value
		v.ready = true
		v.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Ready reports whether the value has been constructed.
func (v *Value[T]) Ready() bool {
	_, ok := v.loaded()
	return ok
}

// Peek returns the value without constructing it.
func (v *Value[T]) Peek() (T, bool) {
	return v.loaded()
}

func (v *Value[T]) loaded() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value, v.ready
}
