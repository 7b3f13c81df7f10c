package engine

import (
	"fmt"
	"time"

	"github.com/wavelinehealth/frontdesk/internal/emr"
)

// Flow identifies one of the top-level conversation flows.
type Flow string

const (
	FlowNone       Flow = ""
	FlowBook       Flow = "book"
	FlowRegister   Flow = "register"
	FlowCancel     Flow = "cancel"
	FlowReschedule Flow = "reschedule"
)

// Step identifies a position inside a flow's step sequence.
type Step string

const (
	StepNone Step = ""

	// Shared identity steps.
	StepCollectIdentity Step = "collect_identity"
	StepLookupPatient   Step = "lookup_patient"

	// Booking.
	StepCollectReason   Step = "collect_reason"
	StepFetchCategories Step = "fetch_categories"
	StepSelectCategory  Step = "select_category"
	StepFetchEvents     Step = "fetch_events"
	StepSelectEvent     Step = "select_event"
	StepCollectDate     Step = "collect_date"
	StepFetchSlots      Step = "fetch_slots"
	StepSelectSlot      Step = "select_slot"
	StepFinalReadback   Step = "final_readback"

	// Registration.
	StepCollectSex     Step = "collect_sex"
	StepCollectPhone   Step = "collect_phone"
	StepCollectEmail   Step = "collect_email"
	StepConfirmDetails Step = "confirm_details"

	// Cancel / reschedule.
	StepVerifyPhone       Step = "verify_phone"
	StepFetchAppointments Step = "fetch_appointments"
	StepSelectAppointment Step = "select_appointment"
	StepCollectNewDate    Step = "collect_new_date"
	StepFetchNewSlots     Step = "fetch_new_slots"
	StepSelectNewSlot     Step = "select_new_slot"
	StepConfirmReschedule Step = "confirm_reschedule"

	StepDone Step = "done"
)

// Outcome labels how a flow terminated.
type Outcome string

const (
	OutcomeNone               Outcome = ""
	OutcomeBooked             Outcome = "booked"
	OutcomeCancelled          Outcome = "cancelled"
	OutcomeRescheduled        Outcome = "rescheduled"
	OutcomeAborted            Outcome = "aborted"
	OutcomeEnded              Outcome = "ended"
	OutcomeCannotVerify       Outcome = "cannot_verify"
	OutcomeCannotDisambiguate Outcome = "cannot_disambiguate"
	OutcomeVerificationFailed Outcome = "verification_failed"
	OutcomeNoUpcoming         Outcome = "no_upcoming_appointments"
	OutcomeNoAvailability     Outcome = "no_availability"
	OutcomeRegistrationFailed Outcome = "registration_failed"
)

// State is the per-conversation session state. It is owned exclusively by one
// conversation, mutated only by the engine, and serialized as JSON by the
// session store.
type State struct {
	SessionID string `json:"sessionId"`
	Flow      Flow   `json:"flow"`
	Step      Step   `json:"step"`

	// Collected holds facts extracted from the conversation that have not
	// passed the confirmation gate. Confirmed holds gate-committed facts and
	// is write-once for the remainder of the flow.
	Collected Facts `json:"collected"`
	Confirmed Facts `json:"confirmed"`

	Pending *Confirmation `json:"pending,omitempty"`

	// ResumeFlow is set while the registration sub-flow is active and names
	// the flow that triggered it.
	ResumeFlow    Flow `json:"resumeFlow,omitempty"`
	OfferRegister bool `json:"offerRegister,omitempty"`

	PhoneVerified   bool `json:"phoneVerified,omitempty"`
	PhoneRequested  bool `json:"phoneRequested,omitempty"`
	IdentityDenials int  `json:"identityDenials,omitempty"`

	// Presentation state: what the engine last surfaced to the conversation,
	// so a selection index on the next turn can be resolved.
	Candidate    *emr.PatientRecord        `json:"candidate,omitempty"`
	Categories   []emr.AppointmentCategory `json:"categories,omitempty"`
	Events       []emr.CategoryEvent       `json:"events,omitempty"`
	Slots        []emr.Slot                `json:"slots,omitempty"`
	Appointments []emr.Appointment         `json:"appointments,omitempty"`

	Outcome Outcome `json:"outcome,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewState creates a fresh session state for a conversation.
func NewState(sessionID string) *State {
	now := time.Now().UTC()
	return &State{
		SessionID: sessionID,
		Collected: make(Facts),
		Confirmed: make(Facts),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Fact returns the best-known value for a key: the confirmed value when
// present, otherwise the collected value.
func (s *State) Fact(key FactKey) string {
	if v, ok := s.Confirmed[key]; ok {
		return v
	}
	return s.Collected[key]
}

// commit moves a value into the confirmed fact set. Confirmed facts are
// write-once: committing a different value for an existing key is an
// invariant violation, committing the identical value is a no-op.
func (s *State) commit(key FactKey, value string) error {
	if existing, ok := s.Confirmed[key]; ok {
		if existing == value {
			return nil
		}
		return fmt.Errorf("%w: confirmed fact %q already set", ErrInvariant, key)
	}
	if value == "" {
		return fmt.Errorf("%w: refusing to confirm empty fact %q", ErrInvariant, key)
	}
	s.Confirmed[key] = value
	delete(s.Collected, key)
	return nil
}

// confirmedArg reads a tool-call argument that must have passed the
// confirmation gate. Every mutating tool call sources all of its arguments
// through this; anything else is an engine bug.
func (s *State) confirmedArg(key FactKey) (string, error) {
	v, ok := s.Confirmed[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: mutating call argument %q is not a confirmed fact", ErrInvariant, key)
	}
	return v, nil
}

// releaseGateFacts withdraws the facts a gate committed when its bound action
// failed. The flow returns to the gate's ReturnStep, so a fresh selection must
// be able to commit again.
func (s *State) releaseGateFacts(p *Confirmation) {
	for key := range p.Facts {
		delete(s.Confirmed, key)
		delete(s.Collected, key)
	}
}

// discardCollected drops all uncommitted facts and presentation state.
// Confirmed facts survive for audit by the host.
func (s *State) discardCollected() {
	s.Collected = make(Facts)
	s.Pending = nil
	s.Candidate = nil
	s.Categories = nil
	s.Events = nil
	s.Slots = nil
	s.Appointments = nil
}
