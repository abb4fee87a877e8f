package actorutil

import (
	"github.com/berfenger/wisun2metrics/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
)

// ReplyTarget is the ReplyToRef of req when set, the sender otherwise
func ReplyTarget(ctx actor.Context, req domain.ActorRequest) *actor.PID {
	if ref := req.ReplyTo(); ref != nil {
		return (*actor.PID)(ref)
	}
	return ctx.Sender()
}

// Respond sends resp to the reply target of req. Requests sent without a
// sender and without ReplyToRef get no answer.
func Respond(ctx actor.Context, req domain.ActorRequest, resp domain.ActorResponse) {
	if target := ReplyTarget(ctx, req); target != nil {
		ctx.Send(target, resp)
	}
}
