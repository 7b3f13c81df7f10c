package engine

import (
	"context"
	"strconv"
)

// Reschedule flow: CollectIdentity → LookupPatient → ConfirmIdentity →
// VerifyPhone → FetchUpcomingAppointments → SelectAppointment →
// CollectNewDate → FetchSlots → SelectNewSlot → ConfirmReschedule →
// RescheduleAppointment. A not-found lookup offers registration; accepting
// continues into booking, not back into this flow.

// stepSelectRescheduleTarget commits the appointment being moved together
// with the original event and category needed for the new-slot search and the
// reschedule call.
func (e *Engine) stepSelectRescheduleTarget(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	sel := takeSelection(in, len(st.Appointments))
	if sel == 0 {
		return choose(msgChooseAppointment, appointmentOptions(st.Appointments)), nil
	}
	appointment := st.Appointments[sel-1]
	return e.requestConfirmation(st, &Confirmation{
		Facts: Facts{
			FactAppointmentID:  appointment.AppointmentID,
			FactApptEventID:    appointment.EventID,
			FactApptCategoryID: appointment.CategoryID,
			FactApptLabel:      appointmentLabel(appointment),
		},
		NextStep:   StepCollectNewDate,
		ReturnStep: StepSelectAppointment,
		Summary:    summaryRescheduleTarget(appointment),
	}), nil
}

func (e *Engine) stepCollectNewDate(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	if confirmed := st.Confirmed[FactNewDate]; confirmed != "" {
		st.Step = StepFetchNewSlots
		return nil, nil
	}
	date := st.Collected[FactNewDate]
	if date == "" {
		return askFact(FactNewDate, msgAskDate), nil
	}
	if !validDate(date) {
		delete(st.Collected, FactNewDate)
		return askFact(FactNewDate, msgBadDate), nil
	}
	return e.requestConfirmation(st, &Confirmation{
		Facts:       Facts{FactNewDate: date},
		NextStep:    StepFetchNewSlots,
		ReturnStep:  StepCollectNewDate,
		ClearOnDeny: []FactKey{FactNewDate},
		Summary:     summaryDate(date),
	}), nil
}

func (e *Engine) stepFetchNewSlots(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	categoryID, err := st.confirmedArg(FactApptCategoryID)
	if err != nil {
		return nil, err
	}
	date, err := st.confirmedArg(FactNewDate)
	if err != nil {
		return nil, err
	}

	slots, err := e.gw.FindAvailableSlots(ctx, categoryID, date)
	if err != nil {
		return e.toolFault(st, "find_available_slots", err), nil
	}
	e.metrics.ObserveToolCall("find_available_slots", "ok")
	if len(slots) == 0 {
		return e.terminate(st, OutcomeNoAvailability, msgNoAvailability), nil
	}
	if len(slots) > e.slotPresentLimit {
		slots = slots[:e.slotPresentLimit]
	}
	st.Slots = slots
	st.Step = StepSelectNewSlot
	return nil, nil
}

func (e *Engine) stepSelectNewSlot(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	sel := takeSelection(in, len(st.Slots))
	if sel == 0 {
		return choose(msgChooseSlot, slotOptions(st.Slots)), nil
	}
	slot := st.Slots[sel-1]
	// Like booking, the new-slot facts stay collected until the final
	// confirmation so a deny can route back to a fresh selection.
	st.Collected[FactNewSlotDate] = slot.AppointmentDate
	st.Collected[FactNewSlotLocationID] = slot.LocationID
	st.Collected[FactNewSlotResourceID] = slot.ResourceID
	st.Collected[FactNewSlotDuration] = strconv.Itoa(slot.ActualDuration)
	if slot.ProviderName != "" {
		st.Collected[FactNewSlotProvider] = slot.ProviderName
	}
	return e.requestConfirmation(st, &Confirmation{
		NextStep:    StepConfirmReschedule,
		ReturnStep:  StepSelectNewSlot,
		ClearOnDeny: newSlotFactKeys,
		Summary:     summarySlot(slot),
	}), nil
}

// stepConfirmReschedule reads the move back in full, commits the new-slot
// fact group, and releases the reschedule call.
func (e *Engine) stepConfirmReschedule(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	facts := Facts{}
	for _, key := range newSlotFactKeys {
		if v := st.Collected[key]; v != "" {
			facts[key] = v
		}
	}
	return e.requestConfirmation(st, &Confirmation{
		Facts:       facts,
		Action:      ActionReschedule,
		NextStep:    StepDone,
		ReturnStep:  StepSelectNewSlot,
		ClearOnDeny: newSlotFactKeys,
		Summary:     summaryReschedule(st),
	}), nil
}
