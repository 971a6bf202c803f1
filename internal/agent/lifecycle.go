package agent

import (
	"context"
	"strings"

	"github.com/qmuntal/stateless"

	"maintline/internal/apperr"
	"maintline/internal/domain"
)

type draftTrigger string

const (
	triggerApply   draftTrigger = "apply"
	triggerDecline draftTrigger = "decline"
	triggerFail    draftTrigger = "fail"
)

// lifecycle guards the draft state graph: pending moves to exactly one of
// applied, declined or failed. Re-declining a declined draft is ignored.
type lifecycle struct {
	fsm *stateless.StateMachine
}

func newLifecycle(status domain.DraftStatus) lifecycle {
	fsm := stateless.NewStateMachine(normalizeStatus(status))
	fsm.Configure(domain.DraftPending).
		Permit(triggerApply, domain.DraftApplied).
		Permit(triggerDecline, domain.DraftDeclined).
		Permit(triggerFail, domain.DraftFailed)
	fsm.Configure(domain.DraftDeclined).
		Ignore(triggerDecline)
	fsm.Configure(domain.DraftApplied)
	fsm.Configure(domain.DraftFailed)
	return lifecycle{fsm: fsm}
}

func normalizeStatus(status domain.DraftStatus) domain.DraftStatus {
	return domain.DraftStatus(strings.ToLower(strings.TrimSpace(string(status))))
}

// fire returns the state after trigger, or Conflict when the draft already
// left pending.
func (l lifecycle) fire(ctx context.Context, trigger draftTrigger) (domain.DraftStatus, error) {
	ok, err := l.fsm.CanFireCtx(ctx, trigger)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.Conflict("Draft action already processed")
	}
	if err := l.fsm.FireCtx(ctx, trigger); err != nil {
		return "", err
	}
	state, err := l.fsm.State(ctx)
	if err != nil {
		return "", err
	}
	return state.(domain.DraftStatus), nil
}
