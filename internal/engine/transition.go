package engine

import (
	"strings"

	"maintline/internal/apperr"
	"maintline/internal/domain"
)

var allowedTransitions = map[domain.Status][]domain.Status{
	domain.StatusOpen:       {domain.StatusInProgress, domain.StatusOnHold},
	domain.StatusInProgress: {domain.StatusComplete, domain.StatusOnHold, domain.StatusOpen},
	domain.StatusOnHold:     {domain.StatusOpen, domain.StatusInProgress, domain.StatusComplete},
	domain.StatusComplete:   {domain.StatusOpen, domain.StatusOnHold},
}

// TransitionInput is everything PlanTransition needs to decide; it never
// touches storage.
type TransitionInput struct {
	Current          domain.Status
	Target           domain.Status
	Archived         bool
	Manager          bool
	ReasonCode       string
	StatusBeforeHold *domain.Status
	Reacted          bool
}

// TransitionPlan lists the side effects applying the transition must produce.
type TransitionPlan struct {
	From               domain.Status
	To                 domain.Status
	StampFirstReaction bool
	EnterHold          bool
	LeaveHold          bool
	EnterComplete      bool
	LeaveComplete      bool
	StartLabor         bool
	StopLabor          bool
	ReasonCode         string
}

// PlanTransition validates a status change and returns its side-effect plan.
// Completion prerequisites depend on stored tasks and are checked on apply.
func PlanTransition(in TransitionInput) (TransitionPlan, error) {
	if in.Archived {
		return TransitionPlan{}, apperr.InvalidState("Archived work orders cannot be updated")
	}
	if in.Target == in.Current {
		return TransitionPlan{}, apperr.Conflict("Work order already in status %s", in.Target)
	}
	// Work must be started before it can be completed.
	if in.Current == domain.StatusOpen && in.Target == domain.StatusComplete {
		return TransitionPlan{}, apperr.InvalidTransition("Cannot complete work order without starting it")
	}
	if !transitionAllowed(in.Current, in.Target) {
		return TransitionPlan{}, apperr.InvalidTransition("Transition from %s to %s is not allowed", in.Current, in.Target)
	}
	if in.Current == domain.StatusComplete && in.Target == domain.StatusOpen && !in.Manager {
		return TransitionPlan{}, apperr.Forbidden("Only managers can reopen completed work orders")
	}
	reason := strings.TrimSpace(in.ReasonCode)
	if in.Target == domain.StatusOnHold && reason == "" {
		return TransitionPlan{}, apperr.InvalidInput("Reason code is required when placing a work order on hold")
	}
	if in.Current == domain.StatusOnHold && in.Target == domain.StatusComplete {
		if in.StatusBeforeHold == nil || *in.StatusBeforeHold != domain.StatusInProgress {
			return TransitionPlan{}, apperr.InvalidTransition("Resume work before completing the work order")
		}
	}
	plan := TransitionPlan{
		From:               in.Current,
		To:                 in.Target,
		StampFirstReaction: !in.Reacted && in.Target != domain.StatusOnHold,
		EnterHold:          in.Target == domain.StatusOnHold,
		LeaveHold:          in.Current == domain.StatusOnHold,
		EnterComplete:      in.Target == domain.StatusComplete,
		LeaveComplete:      in.Current == domain.StatusComplete,
		StartLabor:         in.Target == domain.StatusInProgress,
		StopLabor:          in.Current == domain.StatusInProgress,
	}
	if plan.EnterHold {
		plan.ReasonCode = reason
	}
	return plan, nil
}

func transitionAllowed(from, to domain.Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
