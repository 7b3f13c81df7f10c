package engine

import (
	"context"
	"fmt"
)

// Action names a mutating tool call bound to a confirmation.
type Action string

const (
	ActionNone          Action = ""
	ActionCreatePatient Action = "create_patient"
	ActionBook          Action = "book_appointment"
	ActionCancel        Action = "cancel_appointment"
	ActionReschedule    Action = "reschedule_appointment"
)

// Confirmation is a suspended gate: the engine waits for an affirmative or
// negative signal before committing Facts and, when Action is set, firing the
// bound mutating tool exactly once. Deny returns the flow to ReturnStep and
// clears ClearOnDeny from the collected facts.
type Confirmation struct {
	Facts       Facts     `json:"facts,omitempty"`
	Action      Action    `json:"action,omitempty"`
	NextStep    Step      `json:"nextStep"`
	ReturnStep  Step      `json:"returnStep"`
	ClearOnDeny []FactKey `json:"clearOnDeny,omitempty"`
	Summary     string    `json:"summary"`
}

// requestConfirmation suspends the active step behind the gate and emits the
// confirm prompt.
func (e *Engine) requestConfirmation(st *State, c *Confirmation) *TurnOutput {
	st.Pending = c
	return confirm(c.Summary)
}

// resolvePending handles the signal for an outstanding confirmation.
// A (nil, nil) return means the gate was passed or re-routed and the step
// loop should continue.
func (e *Engine) resolvePending(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	p := st.Pending

	switch in.Signal {
	case SignalAffirm:
		for key, value := range p.Facts {
			if err := st.commit(key, value); err != nil {
				return nil, err
			}
		}
		// The pending marker is cleared before any bound action fires so the
		// gateway is never invoked twice for the same gate release.
		st.Pending = nil
		st.Step = p.NextStep
		if p.Action != ActionNone {
			return e.fireAction(ctx, st, p)
		}
		return nil, nil

	case SignalDeny:
		st.Pending = nil
		if p.ReturnStep == StepCollectIdentity {
			return e.denyIdentity(st)
		}
		for _, key := range p.ClearOnDeny {
			delete(st.Collected, key)
		}
		st.Step = p.ReturnStep
		return nil, nil

	default:
		// No signal this turn: re-issue the confirmation.
		return confirm(p.Summary), nil
	}
}

// denyIdentity handles a denied identity confirmation: bounded re-collection
// of the identity facts, terminating once the configured limit is exceeded.
func (e *Engine) denyIdentity(st *State) (*TurnOutput, error) {
	st.IdentityDenials++
	if st.IdentityDenials >= e.identityDenyLimit {
		return e.terminate(st, OutcomeCannotVerify, msgCannotVerify), nil
	}
	st.Candidate = nil
	for _, key := range identityFactKeys {
		delete(st.Collected, key)
	}
	st.Step = StepCollectIdentity
	return nil, nil
}

// fireAction invokes the mutating tool bound to a released gate. Every
// argument is read from confirmed facts; collected facts are never accepted.
func (e *Engine) fireAction(ctx context.Context, st *State, p *Confirmation) (*TurnOutput, error) {
	switch p.Action {
	case ActionCreatePatient:
		return e.actionCreatePatient(ctx, st)
	case ActionBook:
		return e.actionBook(ctx, st, p)
	case ActionCancel:
		return e.actionCancel(ctx, st, p)
	case ActionReschedule:
		return e.actionReschedule(ctx, st, p)
	default:
		return nil, fmt.Errorf("%w: unknown gate action %q", ErrInvariant, p.Action)
	}
}
