package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/wavelinehealth/frontdesk/internal/emr"
)

// User-facing prompt content. Everything here is opaque to the host's
// rendering layer and never contains internal identifiers.
const (
	msgAskIntent = "I can book, cancel, or reschedule an appointment for you. What would you like to do?"

	msgAskFirstName = "What is the patient's first name?"
	msgAskLastName  = "What is the patient's last name?"
	msgAskDOB       = "What is the patient's date of birth? Please use YYYY-MM-DD."
	msgBadDOB       = "That date of birth doesn't look right. Please give it as YYYY-MM-DD."

	msgAskPhoneDisambiguate = "I found more than one patient with that name and date of birth. Could you share a phone number so I can narrow it down?"
	msgCannotDisambiguate   = "I still couldn't narrow it down to a single patient, so I can't continue safely. Please contact the office directly."
	msgCannotVerify         = "I wasn't able to verify the right patient record, so I have to stop here. Please contact the office directly."

	msgAskReason = "What is the reason for the visit?"
	msgAskDate   = "What date would you like to come in? Please use YYYY-MM-DD."
	msgBadDate   = "I couldn't read that date. Please give it as YYYY-MM-DD."

	msgChooseCategory    = "Which type of appointment do you need?"
	msgChooseEvent       = "Which of these best matches the reason for the visit?"
	msgChooseSlot        = "Here are the next available times. Which one works for you?"
	msgChooseAppointment = "Here are the upcoming appointments I found. Which one do you mean?"

	msgNoCategories = "I'm not able to offer scheduling right now. Please contact the office directly."
	msgNoEvents     = "I couldn't find visit types for that category right now. Please contact the office directly."

	msgAskSex       = "I couldn't find a matching patient record, so let's get you registered. What is the patient's sex at birth? (M, F, or U)"
	msgBadSex       = "Please answer M, F, or U for sex at birth."
	msgAskRegPhone  = "What is the best phone number to reach you?"
	msgAskRegEmail  = "And what is your email address?"
	msgBadRegEmail  = "That email address doesn't look right. Could you give it again?"
	msgOfferRegister = "I couldn't find a matching patient record. Would you like me to register you as a new patient and book an appointment?"

	msgAskVerifyPhone = "For verification, what phone number do we have on file for you?"

	msgNotFoundCancel   = "I couldn't find a matching patient record, so there is nothing I can cancel. Please contact the office if you believe this is an error."
	msgNotFoundDeclined = "Okay, I won't register a new patient. Is there anything else I can help with another time?"

	msgVerificationFailed = "That phone number doesn't match what we have on file, so I can't make changes to this record. Please contact the office directly."
	msgNoUpcoming         = "I don't see any upcoming appointments on file, so there's nothing to change."
	msgNoAvailability     = "I'm sorry, there are no available times on that date. Please start over and try a different date."

	msgToolFault = "I couldn't complete this step right now. Please try again in a moment."

	msgAborted            = "Okay, I've stopped what we were doing. Let me know if you'd like to start again."
	msgRegistrationFailed = "I wasn't able to create the patient record, so I have to stop here. Please contact the office directly."

	msgBooked      = "You're all set — the appointment is booked. We look forward to seeing you!"
	msgCancelled   = "Done — that appointment has been cancelled."
	msgRescheduled = "Done — the appointment has been moved to the new time."
)

func summaryIdentity(r emr.PatientRecord) string {
	return fmt.Sprintf("I found a record for %s, born %s. Is that you?", r.FullName(), r.DateOfBirth)
}

func summaryCategory(c emr.AppointmentCategory) string {
	return fmt.Sprintf("You'd like a %s appointment, correct?", c.Label)
}

func summaryEvent(ev emr.CategoryEvent) string {
	return fmt.Sprintf("Just to confirm, the visit is for: %s. Correct?", ev.Label)
}

func summaryDate(date string) string {
	return fmt.Sprintf("You'd like to come in on %s, correct?", date)
}

func summarySlot(s emr.Slot) string {
	return fmt.Sprintf("You'd like the %s. Correct?", slotLabel(s))
}

func summaryReadback(st *State) string {
	var b strings.Builder
	b.WriteString("Let me read that back: ")
	fmt.Fprintf(&b, "%s %s, born %s, ", st.Fact(FactFirstName), st.Fact(FactLastName), st.Fact(FactDateOfBirth))
	fmt.Fprintf(&b, "booking %s ", st.Fact(FactEventLabel))
	if provider := st.Fact(FactSlotProvider); provider != "" {
		fmt.Fprintf(&b, "with %s ", provider)
	}
	fmt.Fprintf(&b, "on %s (%s minutes). Shall I book it?", displayTime(st.Fact(FactSlotDate)), st.Fact(FactSlotDuration))
	return b.String()
}

func summaryRegistration(st *State) string {
	return fmt.Sprintf(
		"Here's what I have: %s %s, born %s, sex %s, phone %s, email %s. Shall I create the patient record?",
		st.Fact(FactFirstName), st.Fact(FactLastName), st.Fact(FactDateOfBirth),
		st.Fact(FactSex), st.Fact(FactPhone), st.Fact(FactEmail),
	)
}

func summaryCancel(a emr.Appointment) string {
	return fmt.Sprintf("You want to cancel the %s. Shall I go ahead?", appointmentLabel(a))
}

func summaryRescheduleTarget(a emr.Appointment) string {
	return fmt.Sprintf("You want to move the %s, correct?", appointmentLabel(a))
}

func summaryReschedule(st *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Moving your appointment to the %s", displayTime(st.Fact(FactNewSlotDate)))
	if provider := st.Fact(FactNewSlotProvider); provider != "" {
		fmt.Fprintf(&b, " with %s", provider)
	}
	b.WriteString(". Shall I make the change?")
	return b.String()
}

func slotLabel(s emr.Slot) string {
	label := displayTime(s.AppointmentDate)
	if s.ProviderName != "" {
		label += " with " + s.ProviderName
	}
	return label
}

func appointmentLabel(a emr.Appointment) string {
	label := a.EventLabel
	if label == "" {
		label = "appointment"
	}
	return fmt.Sprintf("%s on %s", label, displayTime(a.AppointmentDate))
}

func slotOptions(slots []emr.Slot) []Choice {
	opts := make([]Choice, 0, len(slots))
	for i, s := range slots {
		opts = append(opts, Choice{Index: i + 1, Label: slotLabel(s)})
	}
	return opts
}

func categoryOptions(categories []emr.AppointmentCategory) []Choice {
	opts := make([]Choice, 0, len(categories))
	for i, c := range categories {
		opts = append(opts, Choice{Index: i + 1, Label: c.Label})
	}
	return opts
}

func eventOptions(events []emr.CategoryEvent) []Choice {
	opts := make([]Choice, 0, len(events))
	for i, ev := range events {
		opts = append(opts, Choice{Index: i + 1, Label: ev.Label})
	}
	return opts
}

func appointmentOptions(appts []emr.Appointment) []Choice {
	opts := make([]Choice, 0, len(appts))
	for i, a := range appts {
		opts = append(opts, Choice{Index: i + 1, Label: appointmentLabel(a)})
	}
	return opts
}

// displayTime renders an ISO 8601 timestamp for the patient; unparseable
// values pass through untouched.
func displayTime(value string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			if layout == "2006-01-02" {
				return t.Format("Monday, January 2")
			}
			return t.Format("Monday, January 2 at 3:04 PM")
		}
	}
	return value
}
