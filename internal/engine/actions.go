package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wavelinehealth/frontdesk/internal/emr"
)

// Gate actions: the mutating EMR calls released by an affirmed confirmation.
// Every argument is sourced through confirmedArg; a missing confirmed fact at
// this point is an engine bug, not a user error.

// actionCreatePatient registers the patient and resumes the booking flow at
// reason collection. The EMR lookup is not repeated; the returned personId is
// committed directly.
func (e *Engine) actionCreatePatient(ctx context.Context, st *State) (*TurnOutput, error) {
	req := emr.CreatePatientRequest{}
	for _, f := range []struct {
		key  FactKey
		dest *string
	}{
		{FactFirstName, &req.FirstName},
		{FactLastName, &req.LastName},
		{FactDateOfBirth, &req.DateOfBirth},
		{FactSex, &req.Sex},
		{FactPhone, &req.Phone},
		{FactEmail, &req.Email},
	} {
		v, err := st.confirmedArg(f.key)
		if err != nil {
			return nil, err
		}
		*f.dest = v
	}

	personID, err := e.gw.CreatePatient(ctx, req)
	if err != nil {
		e.metrics.ObserveToolCall("create_patient", "error")
		e.logger.Error("patient registration failed",
			"session_id", st.SessionID,
			"error", err,
		)
		return e.terminate(st, OutcomeRegistrationFailed, msgRegistrationFailed), nil
	}
	e.metrics.ObserveToolCall("create_patient", "ok")
	if err := st.commit(FactPersonID, personID); err != nil {
		return nil, err
	}

	st.Flow = FlowBook
	st.ResumeFlow = FlowNone
	st.Step = StepCollectReason
	return nil, nil
}

// actionBook places the booking. The appointment identifier returned by the
// EMR is logged for the operator but never surfaced to the patient.
func (e *Engine) actionBook(ctx context.Context, st *State, p *Confirmation) (*TurnOutput, error) {
	personID, err := st.confirmedArg(FactPersonID)
	if err != nil {
		return nil, err
	}
	eventID, err := st.confirmedArg(FactEventID)
	if err != nil {
		return nil, err
	}
	locationID, err := st.confirmedArg(FactSlotLocationID)
	if err != nil {
		return nil, err
	}
	resourceID, err := st.confirmedArg(FactSlotResourceID)
	if err != nil {
		return nil, err
	}
	slotDate, err := st.confirmedArg(FactSlotDate)
	if err != nil {
		return nil, err
	}
	duration, err := confirmedMinutes(st, FactSlotDuration)
	if err != nil {
		return nil, err
	}

	appointmentID, err := e.gw.BookAppointment(ctx, emr.BookingRequest{
		PersonID:        personID,
		EventID:         eventID,
		LocationID:      locationID,
		ResourceID:      resourceID,
		AppointmentDate: slotDate,
		DurationMinutes: duration,
	})
	if err != nil {
		st.releaseGateFacts(p)
		st.Step = p.ReturnStep
		return e.toolFault(st, "book_appointment", err), nil
	}
	e.metrics.ObserveToolCall("book_appointment", "ok")
	e.logger.Info("appointment booked",
		"session_id", st.SessionID,
		"appointment_id", appointmentID,
	)
	return e.terminate(st, OutcomeBooked, msgBooked), nil
}

func (e *Engine) actionCancel(ctx context.Context, st *State, p *Confirmation) (*TurnOutput, error) {
	appointmentID, err := st.confirmedArg(FactAppointmentID)
	if err != nil {
		return nil, err
	}

	if err := e.gw.CancelAppointment(ctx, appointmentID); err != nil {
		st.releaseGateFacts(p)
		st.Step = p.ReturnStep
		return e.toolFault(st, "cancel_appointment", err), nil
	}
	e.metrics.ObserveToolCall("cancel_appointment", "ok")
	e.logger.Info("appointment cancelled",
		"session_id", st.SessionID,
		"appointment_id", appointmentID,
	)
	return e.terminate(st, OutcomeCancelled, msgCancelled), nil
}

// actionReschedule moves the appointment. The event identifier is the
// original appointment's event; everything else comes from the newly selected
// slot.
func (e *Engine) actionReschedule(ctx context.Context, st *State, p *Confirmation) (*TurnOutput, error) {
	appointmentID, err := st.confirmedArg(FactAppointmentID)
	if err != nil {
		return nil, err
	}
	eventID, err := st.confirmedArg(FactApptEventID)
	if err != nil {
		return nil, err
	}
	locationID, err := st.confirmedArg(FactNewSlotLocationID)
	if err != nil {
		return nil, err
	}
	resourceID, err := st.confirmedArg(FactNewSlotResourceID)
	if err != nil {
		return nil, err
	}
	slotDate, err := st.confirmedArg(FactNewSlotDate)
	if err != nil {
		return nil, err
	}
	duration, err := confirmedMinutes(st, FactNewSlotDuration)
	if err != nil {
		return nil, err
	}

	newID, err := e.gw.RescheduleAppointment(ctx, emr.RescheduleRequest{
		AppointmentID:   appointmentID,
		EventID:         eventID,
		LocationID:      locationID,
		ResourceID:      resourceID,
		AppointmentDate: slotDate,
		DurationMinutes: duration,
	})
	if err != nil {
		st.releaseGateFacts(p)
		st.Step = p.ReturnStep
		return e.toolFault(st, "reschedule_appointment", err), nil
	}
	e.metrics.ObserveToolCall("reschedule_appointment", "ok")
	e.logger.Info("appointment rescheduled",
		"session_id", st.SessionID,
		"appointment_id", appointmentID,
		"new_appointment_id", newID,
	)
	return e.terminate(st, OutcomeRescheduled, msgRescheduled), nil
}

func confirmedMinutes(st *State, key FactKey) (int, error) {
	raw, err := st.confirmedArg(key)
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: confirmed fact %q is not a duration: %v", ErrInvariant, key, err)
	}
	return minutes, nil
}
