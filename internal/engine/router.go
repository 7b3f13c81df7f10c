package engine

import "fmt"

// notFoundRoute describes what happens when a patient lookup returns no
// matches at a given point in a flow. The full set of legal cross-flow
// redirects is this table; anything else is an internal error.
type notFoundRoute struct {
	// register switches directly into the registration sub-flow, resuming
	// the named flow on success.
	register bool
	resume   Flow
	// offer asks the user whether to register before switching.
	offer bool
	// outcome terminates the flow instead.
	outcome Outcome
	message string
}

var notFoundRoutes = map[Flow]notFoundRoute{
	// Booking: not-found goes straight into registration and resumes booking
	// after the patient record exists.
	FlowBook: {register: true, resume: FlowBook},
	// Reschedule: ask first; an affirmative registers and then continues into
	// booking (there is nothing to reschedule for a brand-new patient).
	FlowReschedule: {offer: true},
	// Cancel: registration is disallowed; the conversation ends.
	FlowCancel: {outcome: OutcomeEnded, message: msgNotFoundCancel},
}

// flowForIntent maps a detected trigger to the flow it activates.
func flowForIntent(intent Intent) Flow {
	switch intent {
	case IntentBook:
		return FlowBook
	case IntentCancel:
		return FlowCancel
	case IntentReschedule:
		return FlowReschedule
	default:
		return FlowNone
	}
}

// routeNotFound applies the redirect table after a lookup returned no match.
func (e *Engine) routeNotFound(st *State) (*TurnOutput, error) {
	route, ok := notFoundRoutes[st.Flow]
	if !ok {
		return nil, fmt.Errorf("%w: no not-found route for flow %q at step %q", ErrInvariant, st.Flow, st.Step)
	}

	switch {
	case route.register:
		e.startRegistration(st, route.resume)
		return nil, nil
	case route.offer:
		st.OfferRegister = true
		return confirm(msgOfferRegister), nil
	default:
		return e.terminate(st, route.outcome, route.message), nil
	}
}

// startRegistration activates the registration sub-flow. Identity facts
// already collected by the triggering flow carry over; they are not
// re-requested.
func (e *Engine) startRegistration(st *State, resume Flow) {
	if resume == FlowNone {
		resume = FlowBook
	}
	st.ResumeFlow = resume
	st.Flow = FlowRegister
	st.Step = StepCollectSex
}

// resolveRegisterOffer handles the yes/no answer to the reschedule-flow
// registration offer.
func (e *Engine) resolveRegisterOffer(st *State, in *TurnInput) (*TurnOutput, error) {
	switch in.Signal {
	case SignalAffirm:
		st.OfferRegister = false
		// Registration success continues into booking, not back into
		// reschedule.
		e.startRegistration(st, FlowBook)
		return nil, nil
	case SignalDeny:
		st.OfferRegister = false
		return e.terminate(st, OutcomeEnded, msgNotFoundDeclined), nil
	default:
		return confirm(msgOfferRegister), nil
	}
}
