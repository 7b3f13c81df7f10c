package engine

import (
	"context"
	"strings"
	"time"

	"github.com/wavelinehealth/frontdesk/internal/emr"
)

// stepCollectIdentity gathers first name, last name, and date of birth. It is
// the entry step of every top-level flow.
func (e *Engine) stepCollectIdentity(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	if st.Fact(FactFirstName) == "" {
		return askFact(FactFirstName, msgAskFirstName), nil
	}
	if st.Fact(FactLastName) == "" {
		return askFact(FactLastName, msgAskLastName), nil
	}
	dob := st.Fact(FactDateOfBirth)
	if dob == "" {
		return askFact(FactDateOfBirth, msgAskDOB), nil
	}
	if !validDate(dob) {
		delete(st.Collected, FactDateOfBirth)
		return askFact(FactDateOfBirth, msgBadDOB), nil
	}
	st.Step = StepLookupPatient
	return nil, nil
}

// stepLookupPatient queries the patient directory and hands the classified
// result to the disambiguation resolver. Re-running with identical facts
// yields the same classification and the same branch.
func (e *Engine) stepLookupPatient(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	req := emr.LookupRequest{
		FirstName:   st.Fact(FactFirstName),
		LastName:    st.Fact(FactLastName),
		DateOfBirth: st.Fact(FactDateOfBirth),
		Phone:       st.Fact(FactPhone),
	}

	res, err := e.gw.LookupPatient(ctx, req)
	if err != nil {
		return e.toolFault(st, "lookup_patient", err), nil
	}
	e.metrics.ObserveToolCall("lookup_patient", "ok")

	return e.resolveLookup(ctx, st, res)
}

// stepVerifyPhone compares the phone number given in conversation against the
// one on file for the confirmed patient. A mismatch is fatal to the flow.
func (e *Engine) stepVerifyPhone(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	if st.Candidate == nil {
		return nil, errInvariantf("phone verification without a looked-up patient")
	}
	phone := st.Fact(FactPhone)
	if phone == "" {
		return askFact(FactPhone, msgAskVerifyPhone), nil
	}
	if normalizePhoneDigits(phone) != normalizePhoneDigits(st.Candidate.Phone) {
		return e.terminate(st, OutcomeVerificationFailed, msgVerificationFailed), nil
	}
	st.PhoneVerified = true
	st.Step = StepFetchAppointments
	return nil, nil
}

func validDate(value string) bool {
	_, err := time.Parse("2006-01-02", value)
	return err == nil
}

// normalizePhoneDigits strips non-digits and normalizes 10-digit US numbers
// to 11-digit format.
func normalizePhoneDigits(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 10 {
		return "1" + d
	}
	return d
}
