package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelinehealth/frontdesk/internal/emr"
	"github.com/wavelinehealth/frontdesk/pkg/logging"
)

// fakeGateway is a scriptable emr.Gateway that records every call.
type fakeGateway struct {
	mu    sync.Mutex
	calls []string

	lookupFn      func(emr.LookupRequest) (*emr.LookupResult, error)
	createFn      func(emr.CreatePatientRequest) (string, error)
	categories    []emr.AppointmentCategory
	categoriesErr error
	events        []emr.CategoryEvent
	eventsErr     error
	slots         []emr.Slot
	slotsErr      error
	appointments  []emr.Appointment
	listErr       error
	bookErr       error
	cancelErr     error
	rescheduleErr error

	bookings    []emr.BookingRequest
	cancelled   []string
	reschedules []emr.RescheduleRequest
}

func (f *fakeGateway) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeGateway) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeGateway) LookupPatient(_ context.Context, req emr.LookupRequest) (*emr.LookupResult, error) {
	f.record("lookup_patient")
	if f.lookupFn == nil {
		return &emr.LookupResult{Status: emr.LookupNone}, nil
	}
	return f.lookupFn(req)
}

func (f *fakeGateway) CreatePatient(_ context.Context, req emr.CreatePatientRequest) (string, error) {
	f.record("create_patient")
	if f.createFn == nil {
		return "", errors.New("create_patient not scripted")
	}
	return f.createFn(req)
}

func (f *fakeGateway) ListAppointmentCategories(context.Context) ([]emr.AppointmentCategory, error) {
	f.record("list_appointment_categories")
	return f.categories, f.categoriesErr
}

func (f *fakeGateway) ListCategoryEvents(_ context.Context, categoryID string) ([]emr.CategoryEvent, error) {
	f.record("list_category_events")
	return f.events, f.eventsErr
}

func (f *fakeGateway) FindAvailableSlots(_ context.Context, categoryID, date string) ([]emr.Slot, error) {
	f.record("find_available_slots")
	return f.slots, f.slotsErr
}

func (f *fakeGateway) ListPatientAppointments(_ context.Context, personID string) ([]emr.Appointment, error) {
	f.record("list_patient_appointments")
	return f.appointments, f.listErr
}

func (f *fakeGateway) BookAppointment(_ context.Context, req emr.BookingRequest) (string, error) {
	f.record("book_appointment")
	if f.bookErr != nil {
		return "", f.bookErr
	}
	f.bookings = append(f.bookings, req)
	return "appt-new-1", nil
}

func (f *fakeGateway) CancelAppointment(_ context.Context, appointmentID string) error {
	f.record("cancel_appointment")
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, appointmentID)
	return nil
}

func (f *fakeGateway) RescheduleAppointment(_ context.Context, req emr.RescheduleRequest) (string, error) {
	f.record("reschedule_appointment")
	if f.rescheduleErr != nil {
		return "", f.rescheduleErr
	}
	f.reschedules = append(f.reschedules, req)
	return "appt-new-2", nil
}

func singleRecord(r emr.PatientRecord) func(emr.LookupRequest) (*emr.LookupResult, error) {
	return func(emr.LookupRequest) (*emr.LookupResult, error) {
		return &emr.LookupResult{Status: emr.LookupOne, Records: []emr.PatientRecord{r}}, nil
	}
}

var testPatient = emr.PatientRecord{
	PersonID:    "person-1",
	FirstName:   "Ada",
	LastName:    "Lovelace",
	DateOfBirth: "1990-03-14",
	Phone:       "5551234567",
}

func testCatalog(gw *fakeGateway) {
	gw.categories = []emr.AppointmentCategory{{CategoryID: "cat-1", Label: "Office Visit"}}
	gw.events = []emr.CategoryEvent{{EventID: "ev-1", Label: "Annual Physical", NominalDuration: 60}}
	gw.slots = []emr.Slot{
		{AppointmentDate: "2026-09-01T09:00:00", LocationID: "loc-1", ResourceID: "res-1", ProviderName: "Dr. Chen", ActualDuration: 30},
		{AppointmentDate: "2026-09-01T10:30:00", LocationID: "loc-1", ResourceID: "res-2", ProviderName: "Dr. Okafor", ActualDuration: 45},
	}
}

func newTestEngine(t *testing.T, gw *fakeGateway, opts ...Option) *Engine {
	t.Helper()
	return New(gw, logging.NewWithWriter("error", io.Discard), opts...)
}

// turn runs one turn and fails the test on an engine error.
func turn(t *testing.T, e *Engine, st *State, in TurnInput) *TurnOutput {
	t.Helper()
	out, err := e.Turn(context.Background(), st, in)
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func provideIdentity(t *testing.T, e *Engine, st *State, intent Intent) *TurnOutput {
	t.Helper()
	out := turn(t, e, st, TurnInput{Intent: intent})
	require.Equal(t, PromptAskFact, out.Prompt.Kind)
	require.Equal(t, FactFirstName, out.Prompt.Fact)

	out = turn(t, e, st, TurnInput{Facts: Facts{FactFirstName: "Ada"}})
	require.Equal(t, FactLastName, out.Prompt.Fact)

	out = turn(t, e, st, TurnInput{Facts: Facts{FactLastName: "Lovelace"}})
	require.Equal(t, FactDateOfBirth, out.Prompt.Fact)

	return turn(t, e, st, TurnInput{Facts: Facts{FactDateOfBirth: "1990-03-14"}})
}

func TestBookHappyPath(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	e := newTestEngine(t, gw)
	st := NewState("s1")

	out := provideIdentity(t, e, st, IntentBook)
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	assert.Contains(t, out.Prompt.Text, "Ada Lovelace")

	// Identity affirmed: booking continues with the reason for visit.
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, FactReason, out.Prompt.Fact)
	assert.Equal(t, "person-1", st.Confirmed[FactPersonID])

	out = turn(t, e, st, TurnInput{Facts: Facts{FactReason: "yearly checkup"}})
	require.Equal(t, PromptChoose, out.Prompt.Kind)
	require.Len(t, out.Prompt.Options, 1)

	out = turn(t, e, st, TurnInput{Selection: 1})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, PromptChoose, out.Prompt.Kind) // events

	out = turn(t, e, st, TurnInput{Selection: 1})
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, PromptAskFact, out.Prompt.Kind)
	require.Equal(t, FactRequestedDate, out.Prompt.Fact)

	out = turn(t, e, st, TurnInput{Facts: Facts{FactRequestedDate: "2026-09-01"}})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, PromptChoose, out.Prompt.Kind) // slots
	require.Len(t, out.Prompt.Options, 2)

	out = turn(t, e, st, TurnInput{Selection: 2})
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, PromptConfirm, out.Prompt.Kind) // final readback
	assert.Contains(t, out.Prompt.Text, "Dr. Okafor")

	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.True(t, out.Done)
	assert.Equal(t, OutcomeBooked, out.Outcome)

	require.Len(t, gw.bookings, 1)
	booking := gw.bookings[0]
	assert.Equal(t, "person-1", booking.PersonID)
	assert.Equal(t, "ev-1", booking.EventID)
	assert.Equal(t, "res-2", booking.ResourceID)
	assert.Equal(t, "2026-09-01T10:30:00", booking.AppointmentDate)
	// Duration comes from the selected slot, never from the event's nominal
	// duration.
	assert.Equal(t, 45, booking.DurationMinutes)

	// Terminal sessions reject further turns.
	_, err := e.Turn(context.Background(), st, TurnInput{})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestBookFiresExactlyOnce(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentBook)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactReason: "checkup"}})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactRequestedDate: "2026-09-01"}})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	out := turn(t, e, st, TurnInput{Signal: SignalAffirm})

	require.True(t, out.Done)
	assert.Equal(t, 1, gw.callCount("book_appointment"))
	assert.Nil(t, st.Pending)
}

func TestBookManyThenPhoneDisambiguates(t *testing.T) {
	two := []emr.PatientRecord{testPatient, {PersonID: "person-2", FirstName: "Ada", LastName: "Lovelace", DateOfBirth: "1990-03-14"}}
	gw := &fakeGateway{
		lookupFn: func(req emr.LookupRequest) (*emr.LookupResult, error) {
			if req.Phone != "" {
				return &emr.LookupResult{Records: []emr.PatientRecord{testPatient}}, nil
			}
			return &emr.LookupResult{Records: two}, nil
		},
	}
	testCatalog(gw)
	e := newTestEngine(t, gw)
	st := NewState("s1")

	out := provideIdentity(t, e, st, IntentBook)
	require.Equal(t, PromptAskFact, out.Prompt.Kind)
	require.Equal(t, FactPhone, out.Prompt.Fact)

	out = turn(t, e, st, TurnInput{Facts: Facts{FactPhone: "555-123-4567"}})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	assert.Contains(t, out.Prompt.Text, "Ada Lovelace")
	assert.Equal(t, 2, gw.callCount("lookup_patient"))
}

func TestBookManyTwiceTerminates(t *testing.T) {
	two := []emr.PatientRecord{testPatient, {PersonID: "person-2"}}
	gw := &fakeGateway{
		lookupFn: func(emr.LookupRequest) (*emr.LookupResult, error) {
			return &emr.LookupResult{Records: two}, nil
		},
	}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	out := provideIdentity(t, e, st, IntentBook)
	require.Equal(t, FactPhone, out.Prompt.Fact)

	// Still ambiguous with the phone: the phone is requested at most once.
	out = turn(t, e, st, TurnInput{Facts: Facts{FactPhone: "5550000000"}})
	require.True(t, out.Done)
	assert.Equal(t, OutcomeCannotDisambiguate, out.Outcome)
}

func TestBookNotFoundRegistersAndResumes(t *testing.T) {
	gw := &fakeGateway{
		lookupFn: func(emr.LookupRequest) (*emr.LookupResult, error) {
			return &emr.LookupResult{Status: emr.LookupNone}, nil
		},
		createFn: func(req emr.CreatePatientRequest) (string, error) {
			return "person-new", nil
		},
	}
	testCatalog(gw)
	e := newTestEngine(t, gw)
	st := NewState("s1")

	out := provideIdentity(t, e, st, IntentBook)
	require.Equal(t, FactSex, out.Prompt.Fact)
	assert.Equal(t, FlowRegister, st.Flow)

	out = turn(t, e, st, TurnInput{Facts: Facts{FactSex: "f"}})
	require.Equal(t, FactPhone, out.Prompt.Fact)
	out = turn(t, e, st, TurnInput{Facts: Facts{FactPhone: "5551234567"}})
	require.Equal(t, FactEmail, out.Prompt.Fact)
	out = turn(t, e, st, TurnInput{Facts: Facts{FactEmail: "ada@example.com"}})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	assert.Contains(t, out.Prompt.Text, "ada@example.com")

	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	// Registration resumes booking at the reason step without a second lookup.
	require.Equal(t, FactReason, out.Prompt.Fact)
	assert.Equal(t, FlowBook, st.Flow)
	assert.Equal(t, "person-new", st.Confirmed[FactPersonID])
	assert.Equal(t, 1, gw.callCount("lookup_patient"))
	assert.Equal(t, 1, gw.callCount("create_patient"))
}

func TestRegistrationFailureTerminates(t *testing.T) {
	gw := &fakeGateway{
		lookupFn: func(emr.LookupRequest) (*emr.LookupResult, error) {
			return &emr.LookupResult{}, nil
		},
		createFn: func(emr.CreatePatientRequest) (string, error) {
			return "", errors.New("duplicate record")
		},
	}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentBook)
	turn(t, e, st, TurnInput{Facts: Facts{FactSex: "F"}})
	turn(t, e, st, TurnInput{Facts: Facts{FactPhone: "5551234567"}})
	turn(t, e, st, TurnInput{Facts: Facts{FactEmail: "ada@example.com"}})
	out := turn(t, e, st, TurnInput{Signal: SignalAffirm})

	require.True(t, out.Done)
	assert.Equal(t, OutcomeRegistrationFailed, out.Outcome)
}

func TestCancelHappyPath(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	gw.appointments = []emr.Appointment{
		{AppointmentID: "appt-1", EventLabel: "Annual Physical", AppointmentDate: "2026-09-10T09:00:00"},
		{AppointmentID: "appt-2", EventLabel: "Follow-up", AppointmentDate: "2026-09-20T14:00:00", Cancelled: true},
	}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	out := provideIdentity(t, e, st, IntentCancel)
	require.Equal(t, PromptConfirm, out.Prompt.Kind)

	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, FactPhone, out.Prompt.Fact) // verification

	out = turn(t, e, st, TurnInput{Facts: Facts{FactPhone: "(555) 123-4567"}})
	require.Equal(t, PromptChoose, out.Prompt.Kind)
	// Already-cancelled appointments are not offered.
	require.Len(t, out.Prompt.Options, 1)

	out = turn(t, e, st, TurnInput{Selection: 1})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.True(t, out.Done)
	assert.Equal(t, OutcomeCancelled, out.Outcome)
	assert.Equal(t, []string{"appt-1"}, gw.cancelled)
}

func TestCancelPhoneMismatchNeverCancels(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	gw.appointments = []emr.Appointment{{AppointmentID: "appt-1"}}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentCancel)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	out := turn(t, e, st, TurnInput{Facts: Facts{FactPhone: "5559999999"}})

	require.True(t, out.Done)
	assert.Equal(t, OutcomeVerificationFailed, out.Outcome)
	assert.Equal(t, 0, gw.callCount("list_patient_appointments"))
	assert.Equal(t, 0, gw.callCount("cancel_appointment"))
}

func TestCancelNoUpcomingAppointments(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentCancel)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	out := turn(t, e, st, TurnInput{Facts: Facts{FactPhone: "5551234567"}})

	require.True(t, out.Done)
	assert.Equal(t, OutcomeNoUpcoming, out.Outcome)
}

func TestCancelNotFoundEndsWithoutRegistration(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	out := provideIdentity(t, e, st, IntentCancel)
	require.True(t, out.Done)
	assert.Equal(t, OutcomeEnded, out.Outcome)
	assert.NotEqual(t, FlowRegister, st.Flow)
}

func TestRescheduleHappyPath(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	gw.appointments = []emr.Appointment{{
		AppointmentID:   "appt-1",
		EventID:         "ev-orig",
		EventLabel:      "Annual Physical",
		CategoryID:      "cat-1",
		AppointmentDate: "2026-09-10T09:00:00",
	}}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	out := provideIdentity(t, e, st, IntentReschedule)
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, FactPhone, out.Prompt.Fact)

	out = turn(t, e, st, TurnInput{Facts: Facts{FactPhone: "15551234567"}})
	require.Equal(t, PromptChoose, out.Prompt.Kind)

	out = turn(t, e, st, TurnInput{Selection: 1})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, FactNewDate, out.Prompt.Fact)

	out = turn(t, e, st, TurnInput{Facts: Facts{FactNewDate: "2026-09-15"}})
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, PromptChoose, out.Prompt.Kind) // new slots

	out = turn(t, e, st, TurnInput{Selection: 1})
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, PromptConfirm, out.Prompt.Kind) // final readback for the move

	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.True(t, out.Done)
	assert.Equal(t, OutcomeRescheduled, out.Outcome)

	require.Len(t, gw.reschedules, 1)
	req := gw.reschedules[0]
	assert.Equal(t, "appt-1", req.AppointmentID)
	// The original appointment's event rides along; the slot supplies the rest.
	assert.Equal(t, "ev-orig", req.EventID)
	assert.Equal(t, "2026-09-01T09:00:00", req.AppointmentDate)
	assert.Equal(t, 30, req.DurationMinutes)
}

func TestRescheduleNotFoundOffersRegistration(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	out := provideIdentity(t, e, st, IntentReschedule)
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	require.True(t, st.OfferRegister)

	// Accepting switches into registration; success will continue as booking.
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, FactSex, out.Prompt.Fact)
	assert.Equal(t, FlowRegister, st.Flow)
	assert.Equal(t, FlowBook, st.ResumeFlow)
}

func TestRescheduleOfferDeclinedEnds(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentReschedule)
	out := turn(t, e, st, TurnInput{Signal: SignalDeny})
	require.True(t, out.Done)
	assert.Equal(t, OutcomeEnded, out.Outcome)
}

func TestIdentityDenyRetriesThenTerminates(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	out := provideIdentity(t, e, st, IntentBook)
	require.Equal(t, PromptConfirm, out.Prompt.Kind)

	// First denial clears the collected identity and starts over.
	out = turn(t, e, st, TurnInput{Signal: SignalDeny})
	require.Equal(t, FactFirstName, out.Prompt.Fact)
	assert.Empty(t, st.Collected[FactLastName])

	out = turn(t, e, st, TurnInput{Facts: Facts{
		FactFirstName:   "Ada",
		FactLastName:    "King",
		FactDateOfBirth: "1990-03-14",
	}})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)

	// Second denial exhausts the limit.
	out = turn(t, e, st, TurnInput{Signal: SignalDeny})
	require.True(t, out.Done)
	assert.Equal(t, OutcomeCannotVerify, out.Outcome)
}

func TestDateDeniedIsRecollected(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentBook)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactReason: "checkup"}})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	out := turn(t, e, st, TurnInput{Facts: Facts{FactRequestedDate: "2026-09-01"}})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)

	out = turn(t, e, st, TurnInput{Signal: SignalDeny})
	require.Equal(t, FactRequestedDate, out.Prompt.Fact)
	assert.Empty(t, st.Collected[FactRequestedDate])
	assert.Empty(t, st.Confirmed[FactRequestedDate])

	out = turn(t, e, st, TurnInput{Facts: Facts{FactRequestedDate: "2026-09-02"}})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	assert.Contains(t, out.Prompt.Text, "2026-09-02")
}

func TestNoAvailabilityOnConfirmedDateIsTerminal(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	gw.slots = nil
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentBook)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactReason: "checkup"}})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactRequestedDate: "2026-09-01"}})
	out := turn(t, e, st, TurnInput{Signal: SignalAffirm})

	require.True(t, out.Done)
	assert.Equal(t, OutcomeNoAvailability, out.Outcome)
}

func TestSlotPresentationIsTruncated(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	gw.slots = []emr.Slot{
		{AppointmentDate: "2026-09-01T08:00:00", ActualDuration: 30},
		{AppointmentDate: "2026-09-01T09:00:00", ActualDuration: 30},
		{AppointmentDate: "2026-09-01T10:00:00", ActualDuration: 30},
		{AppointmentDate: "2026-09-01T11:00:00", ActualDuration: 30},
	}
	e := newTestEngine(t, gw, WithSlotPresentLimit(2))
	st := NewState("s1")

	provideIdentity(t, e, st, IntentBook)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactReason: "checkup"}})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactRequestedDate: "2026-09-01"}})
	out := turn(t, e, st, TurnInput{Signal: SignalAffirm})

	require.Equal(t, PromptChoose, out.Prompt.Kind)
	assert.Len(t, out.Prompt.Options, 2)
}

func TestToolFaultLeavesStepUnchanged(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	gw.categoriesErr = errors.New("upstream 500")
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentBook)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	out := turn(t, e, st, TurnInput{Facts: Facts{FactReason: "checkup"}})
	require.Equal(t, PromptNotice, out.Prompt.Kind)
	assert.Equal(t, StepFetchCategories, st.Step)
	assert.Equal(t, OutcomeNone, st.Outcome)

	// The fault is transient: the next turn retries the same step.
	gw.categoriesErr = nil
	out = turn(t, e, st, TurnInput{})
	require.Equal(t, PromptChoose, out.Prompt.Kind)
}

func TestBookFaultReturnsToSlotSelection(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	gw.bookErr = errors.New("upstream 500")
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentBook)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactReason: "checkup"}})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactRequestedDate: "2026-09-01"}})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	out := turn(t, e, st, TurnInput{Signal: SignalAffirm})

	require.Equal(t, PromptNotice, out.Prompt.Kind)
	assert.Equal(t, StepSelectSlot, st.Step)
	assert.Equal(t, OutcomeNone, st.Outcome)
}

func TestReadbackDeniedAllowsDifferentSlot(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentBook)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactReason: "checkup"}})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactRequestedDate: "2026-09-01"}})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	out := turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	assert.Contains(t, out.Prompt.Text, "Dr. Chen")

	// Denying the readback routes back to slot selection with nothing from the
	// first slot locked in.
	out = turn(t, e, st, TurnInput{Signal: SignalDeny})
	require.Equal(t, PromptChoose, out.Prompt.Kind)
	assert.Empty(t, st.Confirmed[FactSlotDate])

	out = turn(t, e, st, TurnInput{Selection: 2})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	assert.Contains(t, out.Prompt.Text, "Dr. Okafor")

	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.True(t, out.Done)
	assert.Equal(t, OutcomeBooked, out.Outcome)

	require.Len(t, gw.bookings, 1)
	assert.Equal(t, "res-2", gw.bookings[0].ResourceID)
	assert.Equal(t, 45, gw.bookings[0].DurationMinutes)
}

func TestRescheduleConfirmDeniedAllowsDifferentSlot(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	gw.appointments = []emr.Appointment{{
		AppointmentID:   "appt-1",
		EventID:         "ev-orig",
		EventLabel:      "Annual Physical",
		CategoryID:      "cat-1",
		AppointmentDate: "2026-09-10T09:00:00",
	}}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentReschedule)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactPhone: "5551234567"}})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactNewDate: "2026-09-15"}})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	out := turn(t, e, st, TurnInput{Signal: SignalDeny})
	require.Equal(t, PromptChoose, out.Prompt.Kind)
	assert.Empty(t, st.Confirmed[FactNewSlotDate])

	turn(t, e, st, TurnInput{Selection: 2})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.True(t, out.Done)
	assert.Equal(t, OutcomeRescheduled, out.Outcome)

	require.Len(t, gw.reschedules, 1)
	assert.Equal(t, "2026-09-01T10:30:00", gw.reschedules[0].AppointmentDate)
	assert.Equal(t, 45, gw.reschedules[0].DurationMinutes)
}

func TestBookFaultThenDifferentSlotSucceeds(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	gw.bookErr = errors.New("upstream 500")
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentBook)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactReason: "checkup"}})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactRequestedDate: "2026-09-01"}})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Selection: 1})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	out := turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, PromptNotice, out.Prompt.Kind)
	require.Equal(t, StepSelectSlot, st.Step)
	// The failed booking's slot facts are withdrawn with it.
	assert.Empty(t, st.Confirmed[FactSlotDate])

	gw.bookErr = nil
	out = turn(t, e, st, TurnInput{})
	require.Equal(t, PromptChoose, out.Prompt.Kind)
	turn(t, e, st, TurnInput{Selection: 2})
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})

	require.True(t, out.Done)
	assert.Equal(t, OutcomeBooked, out.Outcome)
	require.Len(t, gw.bookings, 1)
	assert.Equal(t, "res-2", gw.bookings[0].ResourceID)
}

func TestCancelFaultThenDifferentAppointment(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	gw.appointments = []emr.Appointment{
		{AppointmentID: "appt-1", EventLabel: "Annual Physical", AppointmentDate: "2026-09-10T09:00:00"},
		{AppointmentID: "appt-2", EventLabel: "Follow-up", AppointmentDate: "2026-09-20T14:00:00"},
	}
	gw.cancelErr = errors.New("upstream 500")
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentCancel)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactPhone: "5551234567"}})
	turn(t, e, st, TurnInput{Selection: 1})
	out := turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.Equal(t, PromptNotice, out.Prompt.Kind)
	require.Equal(t, StepSelectAppointment, st.Step)
	assert.Empty(t, st.Confirmed[FactAppointmentID])

	gw.cancelErr = nil
	turn(t, e, st, TurnInput{Selection: 2})
	out = turn(t, e, st, TurnInput{Signal: SignalAffirm})
	require.True(t, out.Done)
	assert.Equal(t, OutcomeCancelled, out.Outcome)
	assert.Equal(t, []string{"appt-2"}, gw.cancelled)
}

func TestAbortDiscardsCollectedFacts(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	turn(t, e, st, TurnInput{Intent: IntentBook})
	turn(t, e, st, TurnInput{Facts: Facts{FactFirstName: "Ada"}})
	out := turn(t, e, st, TurnInput{Abort: true})

	require.True(t, out.Done)
	assert.Equal(t, OutcomeAborted, out.Outcome)
	assert.Empty(t, st.Collected)
	assert.Equal(t, 0, gw.callCount("lookup_patient"))
}

func TestInvalidDOBIsReRequested(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	turn(t, e, st, TurnInput{Intent: IntentBook})
	turn(t, e, st, TurnInput{Facts: Facts{FactFirstName: "Ada", FactLastName: "Lovelace"}})
	out := turn(t, e, st, TurnInput{Facts: Facts{FactDateOfBirth: "03/14/1990"}})

	require.Equal(t, FactDateOfBirth, out.Prompt.Fact)
	assert.Equal(t, msgBadDOB, out.Prompt.Text)
	assert.Equal(t, 0, gw.callCount("lookup_patient"))
}

func TestSelectionOutOfRangeReprompts(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	testCatalog(gw)
	e := newTestEngine(t, gw)
	st := NewState("s1")

	provideIdentity(t, e, st, IntentBook)
	turn(t, e, st, TurnInput{Signal: SignalAffirm})
	turn(t, e, st, TurnInput{Facts: Facts{FactReason: "checkup"}})
	out := turn(t, e, st, TurnInput{Selection: 9})

	require.Equal(t, PromptChoose, out.Prompt.Kind)
	require.Len(t, out.Prompt.Options, 1)
}

func TestUnansweredConfirmationIsReissued(t *testing.T) {
	gw := &fakeGateway{lookupFn: singleRecord(testPatient)}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	out := provideIdentity(t, e, st, IntentBook)
	summary := out.Prompt.Text

	out = turn(t, e, st, TurnInput{Facts: Facts{FactReason: "checkup"}})
	require.Equal(t, PromptConfirm, out.Prompt.Kind)
	assert.Equal(t, summary, out.Prompt.Text)
}

func TestNilStateAndNilGateway(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(t, gw)
	_, err := e.Turn(context.Background(), nil, TurnInput{})
	assert.ErrorIs(t, err, ErrInvariant)

	assert.Panics(t, func() {
		New(nil, nil)
	})
}

func TestNoIntentIsPromptedForOne(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(t, gw)
	st := NewState("s1")

	out := turn(t, e, st, TurnInput{})
	require.Equal(t, PromptNotice, out.Prompt.Kind)
	assert.Equal(t, msgAskIntent, out.Prompt.Text)
	assert.Equal(t, FlowNone, st.Flow)
}
