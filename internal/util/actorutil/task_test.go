package actorutil

import (
	"errors"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
)

type taskResult struct {
	value string
	err   error
}

func runTask(t *testing.T, fn func() (*taskResult, error)) taskResult {
	as := actor.NewActorSystem()
	defer as.Shutdown()

	results := make(chan taskResult, 1)
	probe := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		if r, ok := ctx.Message().(taskResult); ok {
			results <- r
		}
	}))
	owner := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		if _, ok := ctx.Message().(*actor.Started); ok {
			NewBackgroundTask(ctx, fn).Recover(func(err error) taskResult {
				return taskResult{err: err}
			}).PipeTo(probe)
		}
	}))
	defer as.Root.Stop(owner)

	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("task result not delivered")
	}
	return taskResult{}
}

func TestBackgroundTask(t *testing.T) {

	assert := assert.New(t)

	r := runTask(t, func() (*taskResult, error) {
		return &taskResult{value: "joined"}, nil
	})
	assert.Equal("joined", r.value)
	assert.NoError(r.err)

	cause := errors.New("scan exhausted")
	r = runTask(t, func() (*taskResult, error) {
		return nil, cause
	})
	assert.ErrorIs(r.err, cause)

	r = runTask(t, func() (*taskResult, error) {
		panic(cause)
	})
	assert.ErrorIs(r.err, cause, "panics are recovered")

	r = runTask(t, func() (*taskResult, error) {
		return nil, nil
	})
	assert.Error(r.err, "nil result")
}

func TestStashDrop(t *testing.T) {

	assert := assert.New(t)

	stash := &Stash{stash: []stashElem{{msg: "a"}, {msg: 1}, {msg: "b"}, {msg: 2}}}
	n := stash.Drop(func(msg any) bool {
		_, ok := msg.(string)
		return ok
	})
	assert.Equal(2, n)
	assert.Equal([]stashElem{{msg: 1}, {msg: 2}}, stash.stash)
}
