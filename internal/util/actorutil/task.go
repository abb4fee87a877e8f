package actorutil

import (
	"errors"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/primetalk/goio/io"
)

// SafeBackgroundTask runs a blocking function outside the actor and turns
// its outcome, panics included, into a message
type SafeBackgroundTask[T any] struct {
	system    *actor.ActorSystem
	fn        func() (*T, error)
	recover   func(error) T
	onSuccess func(T)
}

func NewBackgroundTask[T any](ctx actor.Context, fn func() (*T, error)) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		system: ctx.ActorSystem(),
		fn:     fn,
	}
}

// Recover maps a failure into a value instead of dropping it
func (t *SafeBackgroundTask[T]) Recover(fn func(error) T) *SafeBackgroundTask[T] {
	t.recover = fn
	return t
}

// PipeTo runs the task on its own goroutine and sends the result to pid.
// The actor context is not touched once PipeTo returns.
func (t *SafeBackgroundTask[T]) PipeTo(pid *actor.PID) {
	system := t.system
	t.onSuccess = func(value T) {
		system.Root.Send(pid, value)
	}
	go t.Run()
}

// Run blocks until the task completes
func (t *SafeBackgroundTask[T]) Run() {
	bgFn := io.Eval(t.fn)
	bg := io.Map(bgFn, func(a *T) T {
		if a != nil {
			return *a
		}
		panic(errors.New("result is nil"))
	})
	result := io.RunSync(bg)
	finalValue := result.Value
	if result.Error != nil {
		if t.recover == nil {
			return
		}
		finalValue = t.recover(result.Error)
	}

	if t.onSuccess != nil {
		t.onSuccess(finalValue)
	}
}
