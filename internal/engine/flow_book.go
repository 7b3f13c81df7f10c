package engine

import (
	"context"
	"strconv"
)

// Booking flow: CollectIdentity → LookupPatient → ConfirmIdentity →
// CollectReason → FetchCategories → SelectCategory → FetchEvents →
// SelectEvent → CollectDate → FetchSlots → SelectSlot → FinalReadback →
// BookAppointment. Identity steps are shared (flow_identity.go); every
// selection passes through the confirmation gate, and the slot fact group
// commits at the final readback.

func (e *Engine) stepCollectReason(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	if st.Fact(FactReason) == "" {
		return askFact(FactReason, msgAskReason), nil
	}
	st.Step = StepFetchCategories
	return nil, nil
}

func (e *Engine) stepFetchCategories(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	categories, err := e.gw.ListAppointmentCategories(ctx)
	if err != nil {
		return e.toolFault(st, "list_appointment_categories", err), nil
	}
	e.metrics.ObserveToolCall("list_appointment_categories", "ok")
	if len(categories) == 0 {
		return e.terminate(st, OutcomeEnded, msgNoCategories), nil
	}
	st.Categories = categories
	st.Step = StepSelectCategory
	return nil, nil
}

func (e *Engine) stepSelectCategory(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	sel := takeSelection(in, len(st.Categories))
	if sel == 0 {
		return choose(msgChooseCategory, categoryOptions(st.Categories)), nil
	}
	category := st.Categories[sel-1]
	return e.requestConfirmation(st, &Confirmation{
		Facts: Facts{
			FactCategoryID:    category.CategoryID,
			FactCategoryLabel: category.Label,
		},
		NextStep:   StepFetchEvents,
		ReturnStep: StepSelectCategory,
		Summary:    summaryCategory(category),
	}), nil
}

func (e *Engine) stepFetchEvents(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	categoryID, err := st.confirmedArg(FactCategoryID)
	if err != nil {
		return nil, err
	}
	events, err := e.gw.ListCategoryEvents(ctx, categoryID)
	if err != nil {
		return e.toolFault(st, "list_category_events", err), nil
	}
	e.metrics.ObserveToolCall("list_category_events", "ok")
	if len(events) == 0 {
		return e.terminate(st, OutcomeEnded, msgNoEvents), nil
	}
	st.Events = events
	st.Step = StepSelectEvent
	return nil, nil
}

func (e *Engine) stepSelectEvent(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	sel := takeSelection(in, len(st.Events))
	if sel == 0 {
		return choose(msgChooseEvent, eventOptions(st.Events)), nil
	}
	event := st.Events[sel-1]
	// Only the event identity is committed. The event's nominal duration is
	// advisory and is discarded here; booking uses the duration of the
	// selected slot.
	return e.requestConfirmation(st, &Confirmation{
		Facts: Facts{
			FactEventID:    event.EventID,
			FactEventLabel: event.Label,
		},
		NextStep:   StepCollectDate,
		ReturnStep: StepSelectEvent,
		Summary:    summaryEvent(event),
	}), nil
}

// stepCollectDate requires an explicitly collected date. The engine never
// substitutes a default when the fact is absent.
func (e *Engine) stepCollectDate(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	if confirmed := st.Confirmed[FactRequestedDate]; confirmed != "" {
		st.Step = StepFetchSlots
		return nil, nil
	}
	date := st.Collected[FactRequestedDate]
	if date == "" {
		return askFact(FactRequestedDate, msgAskDate), nil
	}
	if !validDate(date) {
		delete(st.Collected, FactRequestedDate)
		return askFact(FactRequestedDate, msgBadDate), nil
	}
	return e.requestConfirmation(st, &Confirmation{
		Facts:       Facts{FactRequestedDate: date},
		NextStep:    StepFetchSlots,
		ReturnStep:  StepCollectDate,
		ClearOnDeny: []FactKey{FactRequestedDate},
		Summary:     summaryDate(date),
	}), nil
}

func (e *Engine) stepFetchSlots(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	categoryID, err := st.confirmedArg(FactCategoryID)
	if err != nil {
		return nil, err
	}
	date, err := st.confirmedArg(FactRequestedDate)
	if err != nil {
		return nil, err
	}

	slots, err := e.gw.FindAvailableSlots(ctx, categoryID, date)
	if err != nil {
		return e.toolFault(st, "find_available_slots", err), nil
	}
	e.metrics.ObserveToolCall("find_available_slots", "ok")
	if len(slots) == 0 {
		// The requested date is already confirmed and confirmed facts are
		// write-once, so the flow cannot loop back to collect a new date.
		return e.terminate(st, OutcomeNoAvailability, msgNoAvailability), nil
	}
	if len(slots) > e.slotPresentLimit {
		slots = slots[:e.slotPresentLimit]
	}
	st.Slots = slots
	st.Step = StepSelectSlot
	return nil, nil
}

func (e *Engine) stepSelectSlot(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	sel := takeSelection(in, len(st.Slots))
	if sel == 0 {
		return choose(msgChooseSlot, slotOptions(st.Slots)), nil
	}
	slot := st.Slots[sel-1]
	// The slot facts stay collected until the final readback so a denied
	// readback can route back here and a different slot can still be chosen.
	st.Collected[FactSlotDate] = slot.AppointmentDate
	st.Collected[FactSlotLocationID] = slot.LocationID
	st.Collected[FactSlotResourceID] = slot.ResourceID
	st.Collected[FactSlotDuration] = strconv.Itoa(slot.ActualDuration)
	if slot.ProviderName != "" {
		st.Collected[FactSlotProvider] = slot.ProviderName
	}
	return e.requestConfirmation(st, &Confirmation{
		NextStep:    StepFinalReadback,
		ReturnStep:  StepSelectSlot,
		ClearOnDeny: slotFactKeys,
		Summary:     summarySlot(slot),
	}), nil
}

// stepFinalReadback reads the whole booking back and commits the slot fact
// group. Committing here, not at slot selection, keeps the write-once rule
// intact across a deny-then-reselect round trip.
func (e *Engine) stepFinalReadback(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	facts := Facts{}
	for _, key := range slotFactKeys {
		if v := st.Collected[key]; v != "" {
			facts[key] = v
		}
	}
	return e.requestConfirmation(st, &Confirmation{
		Facts:       facts,
		Action:      ActionBook,
		NextStep:    StepDone,
		ReturnStep:  StepSelectSlot,
		ClearOnDeny: slotFactKeys,
		Summary:     summaryReadback(st),
	}), nil
}
