package engine

import (
	"context"
	"strings"
)

// Registration sub-flow: CollectSex → CollectPhone → CollectEmail →
// ConfirmDetails → CreatePatient. It is reachable only through the not-found
// routes in router.go; the identity facts collected by the triggering flow
// carry over and are not re-requested.

func (e *Engine) stepCollectSex(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	sex := strings.ToUpper(strings.TrimSpace(st.Fact(FactSex)))
	if sex == "" {
		return askFact(FactSex, msgAskSex), nil
	}
	if sex != "M" && sex != "F" && sex != "U" {
		delete(st.Collected, FactSex)
		return askFact(FactSex, msgBadSex), nil
	}
	st.Collected[FactSex] = sex
	st.Step = StepCollectPhone
	return nil, nil
}

func (e *Engine) stepCollectPhone(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	if st.Fact(FactPhone) == "" {
		return askFact(FactPhone, msgAskRegPhone), nil
	}
	st.Step = StepCollectEmail
	return nil, nil
}

func (e *Engine) stepCollectEmail(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	email := st.Fact(FactEmail)
	if email == "" {
		return askFact(FactEmail, msgAskRegEmail), nil
	}
	if !strings.Contains(email, "@") {
		delete(st.Collected, FactEmail)
		return askFact(FactEmail, msgBadRegEmail), nil
	}
	st.Step = StepConfirmDetails
	return nil, nil
}

// stepConfirmDetails reads the details back. An affirmative commits all the
// registration facts and releases the create-patient call in one gate pass;
// a denial re-collects the registration facts but keeps name and date of
// birth from the triggering flow.
func (e *Engine) stepConfirmDetails(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	return e.requestConfirmation(st, &Confirmation{
		Facts: Facts{
			FactFirstName:   st.Fact(FactFirstName),
			FactLastName:    st.Fact(FactLastName),
			FactDateOfBirth: st.Fact(FactDateOfBirth),
			FactSex:         st.Fact(FactSex),
			FactPhone:       st.Fact(FactPhone),
			FactEmail:       st.Fact(FactEmail),
		},
		Action:      ActionCreatePatient,
		NextStep:    StepDone,
		ReturnStep:  StepCollectSex,
		ClearOnDeny: []FactKey{FactSex, FactPhone, FactEmail},
		Summary:     summaryRegistration(st),
	}), nil
}
