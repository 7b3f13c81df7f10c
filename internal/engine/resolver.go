package engine

import (
	"context"

	"github.com/wavelinehealth/frontdesk/internal/emr"
)

// resolveLookup applies the uniform disambiguation policy to a patient lookup
// result, identically wherever lookup occurs:
//
//	none → flow-specific not-found routing (see router.go)
//	one  → surface the identity for confirmation
//	many → request a phone number and re-query, at most once
func (e *Engine) resolveLookup(ctx context.Context, st *State, res *emr.LookupResult) (*TurnOutput, error) {
	switch classifyLookup(res) {
	case emr.LookupNone:
		return e.routeNotFound(st)

	case emr.LookupOne:
		record := res.Records[0]
		st.Candidate = &record
		return e.requestConfirmation(st, &Confirmation{
			Facts: Facts{
				FactPersonID:    record.PersonID,
				FactFirstName:   record.FirstName,
				FactLastName:    record.LastName,
				FactDateOfBirth: record.DateOfBirth,
			},
			NextStep:   stepAfterIdentity(st.Flow),
			ReturnStep: StepCollectIdentity,
			Summary:    summaryIdentity(record),
		}), nil

	default: // many
		if st.PhoneRequested {
			return e.terminate(st, OutcomeCannotDisambiguate, msgCannotDisambiguate), nil
		}
		st.PhoneRequested = true
		delete(st.Collected, FactPhone)
		return askFact(FactPhone, msgAskPhoneDisambiguate), nil
	}
}

// classifyLookup normalizes a lookup result: the record count wins over any
// status the gateway reported.
func classifyLookup(res *emr.LookupResult) emr.LookupStatus {
	if res == nil {
		return emr.LookupNone
	}
	switch len(res.Records) {
	case 0:
		return emr.LookupNone
	case 1:
		return emr.LookupOne
	default:
		return emr.LookupMany
	}
}

// stepAfterIdentity is where a flow continues once the patient identity has
// been confirmed. Cancel and reschedule both require phone verification
// before any appointment listing.
func stepAfterIdentity(flow Flow) Step {
	if flow == FlowBook {
		return StepCollectReason
	}
	return StepVerifyPhone
}
