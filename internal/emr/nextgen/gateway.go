package nextgen

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wavelinehealth/frontdesk/internal/emr"
)

// Reason names NextGen requires on mutating scheduling calls. Both lists live
// in master/list-items and are resolved by name at call time.
const (
	cancelReasonType     = "as_cancel_reason"
	cancelReasonName     = "Appointment No Longer Needed"
	rescheduleReasonType = "as_resched_reason"
	rescheduleReasonName = "Patient Request"
)

type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

type personItem struct {
	ID           string `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	DateOfBirth  string `json:"dateOfBirth"`
	Sex          string `json:"sex"`
	HomePhone    string `json:"homePhone"`
	EmailAddress string `json:"emailAddress"`
}

func (p personItem) toRecord() emr.PatientRecord {
	return emr.PatientRecord{
		PersonID:    p.ID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		DateOfBirth: strings.SplitN(p.DateOfBirth, "T", 2)[0],
		Phone:       p.HomePhone,
		Email:       p.EmailAddress,
		Sex:         p.Sex,
	}
}

// LookupPatient searches persons/lookup by name and date of birth, optionally
// narrowed by phone. Expired records are included so returning patients with
// lapsed coverage still match.
func (c *Client) LookupPatient(ctx context.Context, req emr.LookupRequest) (*emr.LookupResult, error) {
	query := url.Values{}
	query.Set("firstName", req.FirstName)
	query.Set("lastName", req.LastName)
	query.Set("dateOfBirth", req.DateOfBirth)
	query.Set("excludeExpired", "false")
	if req.Phone != "" {
		query.Set("phone", req.Phone)
	}

	resp, err := c.request(ctx, http.MethodGet, "persons/lookup", query, nil)
	if err != nil {
		return nil, err
	}

	// The lookup endpoint returns either {"items": [...]} or a bare array.
	var persons []personItem
	var envelope itemsEnvelope[personItem]
	if err := resp.decode(&envelope); err == nil {
		persons = envelope.Items
	} else if err := resp.decode(&persons); err != nil {
		return nil, fmt.Errorf("nextgen: failed to decode person lookup: %w", err)
	}

	result := &emr.LookupResult{Records: make([]emr.PatientRecord, 0, len(persons))}
	for _, p := range persons {
		result.Records = append(result.Records, p.toRecord())
	}
	switch len(result.Records) {
	case 0:
		result.Status = emr.LookupNone
	case 1:
		result.Status = emr.LookupOne
	default:
		result.Status = emr.LookupMany
	}
	return result, nil
}

// CreatePatient registers a new person. NextGen wants the date of birth with a
// midnight time component and reports the new personId through the Location
// header.
func (c *Client) CreatePatient(ctx context.Context, req emr.CreatePatientRequest) (string, error) {
	payload := map[string]any{
		"firstName":    req.FirstName,
		"lastName":     req.LastName,
		"dateOfBirth":  req.DateOfBirth + "T00:00:00",
		"sex":          req.Sex,
		"homePhone":    req.Phone,
		"emailAddress": req.Email,
	}

	resp, err := c.request(ctx, http.MethodPost, "persons", nil, payload)
	if err != nil {
		return "", err
	}
	personID, err := resp.locationID()
	if err != nil {
		return "", fmt.Errorf("nextgen: patient created but ID not reported: %w", err)
	}
	return personID, nil
}

type categoryItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) ListAppointmentCategories(ctx context.Context) ([]emr.AppointmentCategory, error) {
	resp, err := c.request(ctx, http.MethodGet, "master/appointments/categories", nil, nil)
	if err != nil {
		return nil, err
	}

	var envelope itemsEnvelope[categoryItem]
	if err := resp.decode(&envelope); err != nil {
		return nil, fmt.Errorf("nextgen: failed to decode categories: %w", err)
	}

	categories := make([]emr.AppointmentCategory, 0, len(envelope.Items))
	for _, item := range envelope.Items {
		if item.ID == "" || item.Name == "" {
			continue
		}
		categories = append(categories, emr.AppointmentCategory{CategoryID: item.ID, Label: item.Name})
	}
	return categories, nil
}

type eventItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Duration int    `json:"durationMinutes"`
}

func (c *Client) ListCategoryEvents(ctx context.Context, categoryID string) ([]emr.CategoryEvent, error) {
	endpoint := fmt.Sprintf("master/appointments/categories/%s/events", url.PathEscape(categoryID))
	resp, err := c.request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}

	var envelope itemsEnvelope[eventItem]
	if err := resp.decode(&envelope); err != nil {
		return nil, fmt.Errorf("nextgen: failed to decode category events: %w", err)
	}

	events := make([]emr.CategoryEvent, 0, len(envelope.Items))
	for _, item := range envelope.Items {
		if item.ID == "" || item.Name == "" {
			continue
		}
		events = append(events, emr.CategoryEvent{
			EventID:         item.ID,
			Label:           item.Name,
			NominalDuration: item.Duration,
		})
	}
	return events, nil
}

type slotItem struct {
	AppointmentDate  string   `json:"appointmentDate"`
	LocationID       string   `json:"locationId"`
	ResourceID       string   `json:"resourceId"`
	ResourceIDs      []string `json:"resourceIds"`
	ResourceName     string   `json:"resourceName"`
	Duration         int      `json:"duration"`
	TimeslotCount    int      `json:"timeslotCount"`
	AppointmentCount int      `json:"appointmentCount"`
}

// FindAvailableSlots queries appointments/slots with an OData filter over
// category, date, and the configured default location. A slot is offered only
// when its timeslot count exceeds its appointment count.
func (c *Client) FindAvailableSlots(ctx context.Context, categoryID, date string) ([]emr.Slot, error) {
	filter := fmt.Sprintf("categoryId eq guid'%s' and startDate eq dateTime'%s' and locationId eq guid'%s'",
		categoryID, date, c.locationID)
	query := url.Values{}
	query.Set("$filter", filter)

	resp, err := c.request(ctx, http.MethodGet, "appointments/slots", query, nil)
	if err != nil {
		return nil, err
	}

	var envelope itemsEnvelope[slotItem]
	if err := resp.decode(&envelope); err != nil {
		return nil, fmt.Errorf("nextgen: failed to decode slots: %w", err)
	}

	slots := make([]emr.Slot, 0, len(envelope.Items))
	for _, item := range envelope.Items {
		if item.TimeslotCount <= item.AppointmentCount {
			continue
		}
		resourceID := item.ResourceID
		if resourceID == "" && len(item.ResourceIDs) > 0 {
			resourceID = item.ResourceIDs[0]
		}
		slots = append(slots, emr.Slot{
			AppointmentDate: item.AppointmentDate,
			LocationID:      item.LocationID,
			ResourceID:      resourceID,
			ProviderName:    item.ResourceName,
			ActualDuration:  item.Duration,
		})
	}
	return slots, nil
}

type appointmentSummary struct {
	AppointmentID string   `json:"appointmentId"`
	CategoryIDs   []string `json:"categoryIds"`
}

type appointmentDetail struct {
	ID              string   `json:"id"`
	AppointmentDate string   `json:"appointmentDate"`
	BeginTime       string   `json:"beginTime"` // "HHMM"
	Duration        int      `json:"duration"`
	LocationID      string   `json:"locationId"`
	LocationName    string   `json:"locationName"`
	ResourceIDs     []string `json:"resourceIds"`
	EventID         string   `json:"eventId"`
	EventName       string   `json:"eventName"`
	IsCancelled     bool     `json:"isCancelled"`
}

// ListPatientAppointments fetches the patient's appointment summaries and then
// the per-appointment detail each summary points at. The summary carries the
// category IDs the detail omits; reschedule needs them for the slot search.
func (c *Client) ListPatientAppointments(ctx context.Context, personID string) ([]emr.Appointment, error) {
	endpoint := fmt.Sprintf("persons/%s/appointments", url.PathEscape(personID))
	resp, err := c.request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}

	var envelope itemsEnvelope[appointmentSummary]
	if err := resp.decode(&envelope); err != nil {
		return nil, fmt.Errorf("nextgen: failed to decode appointment summaries: %w", err)
	}

	appointments := make([]emr.Appointment, 0, len(envelope.Items))
	for _, summary := range envelope.Items {
		if summary.AppointmentID == "" {
			continue
		}
		detailResp, err := c.request(ctx, http.MethodGet, "appointments/"+url.PathEscape(summary.AppointmentID), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("nextgen: failed to fetch appointment %s: %w", summary.AppointmentID, err)
		}
		var detail appointmentDetail
		if err := detailResp.decode(&detail); err != nil {
			return nil, fmt.Errorf("nextgen: failed to decode appointment %s: %w", summary.AppointmentID, err)
		}

		appt := emr.Appointment{
			AppointmentID:   detail.ID,
			PersonID:        personID,
			EventID:         detail.EventID,
			EventLabel:      detail.EventName,
			LocationID:      detail.LocationID,
			LocationName:    detail.LocationName,
			AppointmentDate: composeAppointmentTime(detail.AppointmentDate, detail.BeginTime),
			DurationMinutes: detail.Duration,
			Cancelled:       detail.IsCancelled,
		}
		if len(detail.ResourceIDs) > 0 {
			appt.ResourceID = detail.ResourceIDs[0]
		}
		if len(summary.CategoryIDs) > 0 {
			appt.CategoryID = summary.CategoryIDs[0]
		}
		appointments = append(appointments, appt)
	}
	return appointments, nil
}

// composeAppointmentTime joins the detail's date (which may carry a midnight
// time component) with its separate HHMM begin time.
func composeAppointmentTime(date, beginTime string) string {
	datePart := strings.SplitN(date, "T", 2)[0]
	if datePart == "" {
		return date
	}
	if len(beginTime) != 4 {
		return datePart
	}
	return fmt.Sprintf("%sT%s:%s:00", datePart, beginTime[:2], beginTime[2:])
}

func (c *Client) BookAppointment(ctx context.Context, req emr.BookingRequest) (string, error) {
	payload := map[string]any{
		"personId":        req.PersonID,
		"eventId":         req.EventID,
		"locationId":      req.LocationID,
		"resourceIds":     []string{req.ResourceID},
		"appointmentDate": req.AppointmentDate,
		"durationMinutes": req.DurationMinutes,
	}

	resp, err := c.request(ctx, http.MethodPost, "appointments", nil, payload)
	if err != nil {
		return "", err
	}
	appointmentID, err := resp.locationID()
	if err != nil {
		return "", fmt.Errorf("nextgen: appointment booked but ID not reported: %w", err)
	}
	return appointmentID, nil
}

func (c *Client) CancelAppointment(ctx context.Context, appointmentID string) error {
	reasonID, err := c.lookupReasonID(ctx, cancelReasonType, cancelReasonName)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("appointments/%s/cancel", url.PathEscape(appointmentID))
	payload := map[string]string{"cancelReasonId": reasonID}
	if _, err := c.request(ctx, http.MethodPost, endpoint, nil, payload); err != nil {
		return err
	}
	return nil
}

func (c *Client) RescheduleAppointment(ctx context.Context, req emr.RescheduleRequest) (string, error) {
	reasonID, err := c.lookupReasonID(ctx, rescheduleReasonType, rescheduleReasonName)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("appointments/%s/reschedule", url.PathEscape(req.AppointmentID))
	payload := map[string]any{
		"eventId":            req.EventID,
		"locationId":         req.LocationID,
		"resourceIds":        []string{req.ResourceID},
		"appointmentDate":    req.AppointmentDate,
		"durationMinutes":    req.DurationMinutes,
		"rescheduleReasonId": reasonID,
	}

	resp, err := c.request(ctx, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return "", err
	}
	newID, err := resp.locationID()
	if err != nil {
		return "", fmt.Errorf("nextgen: appointment rescheduled but new ID not reported: %w", err)
	}
	return newID, nil
}

type listItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// lookupReasonID resolves a master list-item ID by type and name.
func (c *Client) lookupReasonID(ctx context.Context, reasonType, reasonName string) (string, error) {
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("type eq '%s'", reasonType))

	resp, err := c.request(ctx, http.MethodGet, "master/list-items", query, nil)
	if err != nil {
		return "", err
	}

	var envelope itemsEnvelope[listItem]
	if err := resp.decode(&envelope); err != nil {
		return "", fmt.Errorf("nextgen: failed to decode list items: %w", err)
	}
	for _, item := range envelope.Items {
		if item.Name == reasonName {
			return item.ID, nil
		}
	}
	return "", fmt.Errorf("nextgen: no %s list item named %q", reasonType, reasonName)
}
