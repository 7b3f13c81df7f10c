package engine

// FactKey names a single fact collected or confirmed during a flow.
type FactKey string

// Identity and registration facts.
const (
	FactFirstName   FactKey = "first_name"
	FactLastName    FactKey = "last_name"
	FactDateOfBirth FactKey = "date_of_birth"
	FactPhone       FactKey = "phone"
	FactEmail       FactKey = "email"
	FactSex         FactKey = "sex"
	FactPersonID    FactKey = "person_id"
)

// Booking facts. Slot facts stay collected through slot selection and commit
// together at the final readback, so denying the readback can route back to
// a fresh selection. The event's nominal duration is never recorded as a fact.
const (
	FactReason         FactKey = "reason"
	FactCategoryID     FactKey = "category_id"
	FactCategoryLabel  FactKey = "category_label"
	FactEventID        FactKey = "event_id"
	FactEventLabel     FactKey = "event_label"
	FactRequestedDate  FactKey = "requested_date"
	FactSlotDate       FactKey = "slot_date"
	FactSlotLocationID FactKey = "slot_location_id"
	FactSlotResourceID FactKey = "slot_resource_id"
	FactSlotDuration   FactKey = "slot_duration"
	FactSlotProvider   FactKey = "slot_provider"
)

// Cancel/reschedule facts. The new-slot keys are disjoint from the booking
// slot keys so neither flow can overwrite the other's confirmed values.
const (
	FactAppointmentID     FactKey = "appointment_id"
	FactApptEventID       FactKey = "appointment_event_id"
	FactApptCategoryID    FactKey = "appointment_category_id"
	FactApptLabel         FactKey = "appointment_label"
	FactNewDate           FactKey = "new_date"
	FactNewSlotDate       FactKey = "new_slot_date"
	FactNewSlotLocationID FactKey = "new_slot_location_id"
	FactNewSlotResourceID FactKey = "new_slot_resource_id"
	FactNewSlotDuration   FactKey = "new_slot_duration"
	FactNewSlotProvider   FactKey = "new_slot_provider"
)

// identityFactKeys are cleared together when an identity confirmation is
// denied and the patient must be re-collected.
var identityFactKeys = []FactKey{FactFirstName, FactLastName, FactDateOfBirth, FactPhone}

// slotFactKeys and newSlotFactKeys are cleared together whenever a flow
// returns to slot selection.
var slotFactKeys = []FactKey{
	FactSlotDate, FactSlotLocationID, FactSlotResourceID, FactSlotDuration, FactSlotProvider,
}

var newSlotFactKeys = []FactKey{
	FactNewSlotDate, FactNewSlotLocationID, FactNewSlotResourceID, FactNewSlotDuration, FactNewSlotProvider,
}

// Facts is a fact-name to value map. Values are always strings; numeric facts
// (durations) are parsed at the point of use.
type Facts map[FactKey]string

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (f Facts) Clone() Facts {
	out := make(Facts, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the keys present in the map.
func (f Facts) Keys() []FactKey {
	keys := make([]FactKey, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	return keys
}
