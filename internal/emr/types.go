// Package emr defines the contract between the scheduling workflow engine and
// the external EMR scheduling API. The engine treats every operation as a
// black-box request/response exchange; all matching, ranking, and persistence
// happen on the EMR side.
package emr

import "context"

// LookupStatus classifies the result of a patient lookup.
type LookupStatus string

const (
	LookupNone LookupStatus = "none"
	LookupOne  LookupStatus = "one"
	LookupMany LookupStatus = "many"
)

// Gateway is the interface every EMR integration must implement.
type Gateway interface {
	// LookupPatient searches the patient directory by name and date of birth,
	// optionally narrowed by phone number.
	LookupPatient(ctx context.Context, req LookupRequest) (*LookupResult, error)

	// CreatePatient registers a new patient and returns the new personId.
	CreatePatient(ctx context.Context, req CreatePatientRequest) (string, error)

	// ListAppointmentCategories returns the master list of scheduling categories.
	ListAppointmentCategories(ctx context.Context) ([]AppointmentCategory, error)

	// ListCategoryEvents returns the reasons for visit under a category.
	ListCategoryEvents(ctx context.Context, categoryID string) ([]CategoryEvent, error)

	// FindAvailableSlots returns open slots for a category on a specific date,
	// in the gateway's native ordering.
	FindAvailableSlots(ctx context.Context, categoryID, date string) ([]Slot, error)

	// ListPatientAppointments returns a patient's upcoming appointments.
	ListPatientAppointments(ctx context.Context, personID string) ([]Appointment, error)

	// BookAppointment creates an appointment and returns the new appointmentId.
	BookAppointment(ctx context.Context, req BookingRequest) (string, error)

	// CancelAppointment cancels an existing appointment.
	CancelAppointment(ctx context.Context, appointmentID string) error

	// RescheduleAppointment moves an existing appointment to a new slot and
	// returns the resulting appointmentId.
	RescheduleAppointment(ctx context.Context, req RescheduleRequest) (string, error)
}

// LookupRequest carries the identity facts used to find a patient.
type LookupRequest struct {
	FirstName   string
	LastName    string
	DateOfBirth string // YYYY-MM-DD
	Phone       string // optional, used to disambiguate
}

// LookupResult is the classified outcome of a patient lookup.
type LookupResult struct {
	Status  LookupStatus
	Records []PatientRecord
}

// PatientRecord is a patient directory entry.
type PatientRecord struct {
	PersonID    string `json:"personId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth string `json:"dateOfBirth"` // YYYY-MM-DD
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Sex         string `json:"sex"` // "M", "F", or "U"
}

// FullName renders the record's display name.
func (p PatientRecord) FullName() string {
	if p.FirstName == "" {
		return p.LastName
	}
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// CreatePatientRequest carries the facts required to register a patient.
type CreatePatientRequest struct {
	FirstName   string
	LastName    string
	DateOfBirth string // YYYY-MM-DD
	Sex         string // "M", "F", or "U"
	Phone       string
	Email       string
}

// AppointmentCategory is one entry of the reason-for-visit taxonomy.
type AppointmentCategory struct {
	CategoryID string `json:"categoryId"`
	Label      string `json:"label"`
}

// CategoryEvent is a concrete reason for visit under a category. The nominal
// duration is advisory only; booking always uses the duration of the selected
// slot.
type CategoryEvent struct {
	EventID         string `json:"eventId"`
	Label           string `json:"label"`
	NominalDuration int    `json:"nominalDuration"`
}

// Slot is a concrete offered appointment opportunity. ActualDuration is
// authoritative for booking.
type Slot struct {
	AppointmentDate string `json:"appointmentDate"` // ISO 8601 start
	LocationID      string `json:"locationId"`
	ResourceID      string `json:"resourceId"`
	ProviderName    string `json:"providerName"`
	ActualDuration  int    `json:"actualDuration"` // minutes
}

// Appointment is a booked appointment as returned by the EMR.
type Appointment struct {
	AppointmentID   string `json:"appointmentId"`
	PersonID        string `json:"personId"`
	EventID         string `json:"eventId"`
	EventLabel      string `json:"eventLabel"`
	CategoryID      string `json:"categoryId"`
	LocationID      string `json:"locationId"`
	LocationName    string `json:"locationName"`
	ResourceID      string `json:"resourceId"`
	AppointmentDate string `json:"appointmentDate"` // ISO 8601 start
	DurationMinutes int    `json:"durationMinutes"`
	Cancelled       bool   `json:"cancelled"`
}

// BookingRequest carries the confirmed identifiers for a booking call.
type BookingRequest struct {
	PersonID        string
	EventID         string
	LocationID      string
	ResourceID      string
	AppointmentDate string
	DurationMinutes int
}

// RescheduleRequest moves an appointment to a new slot. EventID is the event
// of the original appointment; the remaining fields come from the newly
// selected slot.
type RescheduleRequest struct {
	AppointmentID   string
	EventID         string
	LocationID      string
	ResourceID      string
	AppointmentDate string
	DurationMinutes int
}
