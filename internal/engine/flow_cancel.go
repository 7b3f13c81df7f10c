package engine

import "context"

// Cancel flow: CollectIdentity → LookupPatient → ConfirmIdentity →
// VerifyPhone → FetchUpcomingAppointments → SelectAppointment →
// ConfirmCancellation → CancelAppointment. A not-found lookup terminates the
// conversation; registration is disallowed here.

// stepFetchAppointments lists the patient's upcoming appointments. Shared by
// the cancel and reschedule flows; both require a completed phone
// verification first.
func (e *Engine) stepFetchAppointments(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	if !st.PhoneVerified {
		return nil, errInvariantf("appointment listing before phone verification")
	}
	personID, err := st.confirmedArg(FactPersonID)
	if err != nil {
		return nil, err
	}

	appointments, err := e.gw.ListPatientAppointments(ctx, personID)
	if err != nil {
		return e.toolFault(st, "list_patient_appointments", err), nil
	}
	e.metrics.ObserveToolCall("list_patient_appointments", "ok")

	upcoming := appointments[:0:0]
	for _, a := range appointments {
		if !a.Cancelled {
			upcoming = append(upcoming, a)
		}
	}
	if len(upcoming) == 0 {
		return e.terminate(st, OutcomeNoUpcoming, msgNoUpcoming), nil
	}
	st.Appointments = upcoming
	st.Step = StepSelectAppointment
	return nil, nil
}

// stepSelectCancelTarget commits the cancellation target and releases the
// cancel call through a single gate pass.
func (e *Engine) stepSelectCancelTarget(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	sel := takeSelection(in, len(st.Appointments))
	if sel == 0 {
		return choose(msgChooseAppointment, appointmentOptions(st.Appointments)), nil
	}
	appointment := st.Appointments[sel-1]
	return e.requestConfirmation(st, &Confirmation{
		Facts: Facts{
			FactAppointmentID: appointment.AppointmentID,
			FactApptLabel:     appointmentLabel(appointment),
		},
		Action:     ActionCancel,
		NextStep:   StepDone,
		ReturnStep: StepSelectAppointment,
		Summary:    summaryCancel(appointment),
	}), nil
}
