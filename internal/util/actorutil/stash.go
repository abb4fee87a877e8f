package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// Stash keeps messages an actor cannot handle in its current behavior,
// along with their original sender
type Stash struct {
	stash []stashElem
}

type stashElem struct {
	msg    any
	sender *actor.PID
}

func (stash *Stash) Stash(ctx actor.Context, msg any) {
	stash.stash = append(stash.stash, stashElem{
		msg:    msg,
		sender: ctx.Sender(),
	})
}

func (stash *Stash) UnstashAll(ctx actor.Context) {
	for _, elem := range stash.stash {
		ctx.RequestWithCustomSender(ctx.Self(), elem.msg, elem.sender)
	}
	stash.stash = nil
}

// Drop discards the stashed messages matching fn
func (stash *Stash) Drop(fn func(msg any) bool) int {
	kept := stash.stash[:0]
	dropped := 0
	for _, elem := range stash.stash {
		if fn(elem.msg) {
			dropped++
			continue
		}
		kept = append(kept, elem)
	}
	stash.stash = kept
	return dropped
}
