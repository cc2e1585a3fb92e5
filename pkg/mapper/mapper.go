// Package mapper converts appointments into service request drafts.
// Mapping is pure: no network access, no side effects, one statically
// declared field table.
package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/tidwall/gjson"

	"github.com/deskbridge/deskbridge/pkg/connector"
)

// defaultCategories seeds the service-type-to-category table. Keys are
// snake_case canonical forms of the source service name; deployments
// extend or override them through config.
var defaultCategories = map[string]string{
	"loaner_laptop":     "Hardware Loan",
	"laptop_repair":     "Hardware Repair",
	"equipment_pickup":  "Hardware Return",
	"software_install":  "Software Request",
	"account_support":   "Account Services",
	"walk_in_support":   "General Request",
	"new_hire_setup":    "Onboarding",
	"av_room_support":   "AV Support",
	"password_reset":    "Account Services",
	"phone_replacement": "Mobile Devices",
}

// Mapper implements connector.Mapper with a category table and a
// default for unmatched service types.
type Mapper struct {
	categories      map[string]string
	defaultCategory string
}

var _ connector.Mapper = (*Mapper)(nil)

// New creates a Mapper. overrides extends (and wins over) the seeded
// category table; keys are canonicalized, so "Loaner Laptop" and
// "loaner_laptop" address the same entry. defaultCategory applies to
// unmatched service types; when empty, unmatched types fail mapping.
func New(defaultCategory string, overrides map[string]string) *Mapper {
	categories := make(map[string]string, len(defaultCategories)+len(overrides))
	for k, v := range defaultCategories {
		categories[k] = v
	}
	for k, v := range overrides {
		categories[canonicalKey(k)] = v
	}
	return &Mapper{
		categories:      categories,
		defaultCategory: defaultCategory,
	}
}

// Map converts an appointment into a draft. Appointments missing a
// mandatory source field (ID, service name, customer email, start
// time) fail with a MappingError; optional fields get defaults.
func (m *Mapper) Map(appt connector.Appointment) (connector.ServiceRequestDraft, error) {
	if appt.ID == "" {
		return connector.ServiceRequestDraft{}, &connector.MappingError{
			Field: "id", Err: fmt.Errorf("appointment has no identifier"),
		}
	}
	if appt.ServiceName == "" {
		return connector.ServiceRequestDraft{}, m.fail(appt, "serviceName", "missing service name")
	}
	if appt.CustomerEmail == "" {
		return connector.ServiceRequestDraft{}, m.fail(appt, "customerEmailAddress", "missing customer email")
	}
	if appt.Start.IsZero() {
		return connector.ServiceRequestDraft{}, m.fail(appt, "startDateTime", "missing start time")
	}

	category, err := m.category(appt)
	if err != nil {
		return connector.ServiceRequestDraft{}, err
	}

	customerName := appt.CustomerName
	if customerName == "" {
		customerName = appt.CustomerEmail
	}

	return connector.ServiceRequestDraft{
		ExternalRef:    appt.ID,
		Subject:        fmt.Sprintf("%s - %s (%s)", appt.ServiceName, customerName, appt.ID),
		Description:    description(appt),
		Category:       category,
		RequesterName:  customerName,
		RequesterEmail: appt.CustomerEmail,
		RequesterPhone: appt.CustomerPhone,
	}, nil
}

func (m *Mapper) fail(appt connector.Appointment, field, msg string) error {
	return &connector.MappingError{
		AppointmentID: appt.ID,
		Field:         field,
		Err:           fmt.Errorf("%s", msg),
	}
}

func (m *Mapper) category(appt connector.Appointment) (string, error) {
	if category, ok := m.categories[canonicalKey(appt.ServiceName)]; ok {
		return category, nil
	}
	if m.defaultCategory != "" {
		return m.defaultCategory, nil
	}
	return "", &connector.MappingError{
		AppointmentID: appt.ID,
		Field:         "serviceName",
		Err:           fmt.Errorf("no category mapping for service type %q and no default category configured", appt.ServiceName),
	}
}

// description renders the ticket body: the slot in the appointment's
// own time zone, the requester block, booking notes, and any custom
// question answers from the raw payload.
func description(appt connector.Appointment) string {
	var b strings.Builder

	loc := time.UTC
	if appt.TimeZone != "" {
		if l, err := time.LoadLocation(appt.TimeZone); err == nil {
			loc = l
		}
	}

	fmt.Fprintf(&b, "Appointment %s booked via %s.\n\n", appt.ID, appt.ServiceName)
	fmt.Fprintf(&b, "Scheduled: %s", appt.Start.In(loc).Format("Mon, 02 Jan 2006 15:04 MST"))
	if !appt.End.IsZero() {
		fmt.Fprintf(&b, " - %s", appt.End.In(loc).Format("15:04 MST"))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Requester: %s <%s>", appt.CustomerName, appt.CustomerEmail)
	if appt.CustomerPhone != "" {
		fmt.Fprintf(&b, " (%s)", appt.CustomerPhone)
	}
	b.WriteString("\n")

	if appt.Notes != "" {
		fmt.Fprintf(&b, "\nNotes:\n%s\n", appt.Notes)
	}

	if answers := customAnswers(appt.Raw); len(answers) > 0 {
		b.WriteString("\nBooking questions:\n")
		for _, a := range answers {
			fmt.Fprintf(&b, "- %s: %s\n", a.question, a.answer)
		}
	}

	return b.String()
}

type questionAnswer struct {
	question string
	answer   string
}

// customAnswers pulls question/answer pairs out of the appointment's
// raw payload. Absent or malformed sections yield nothing; answers are
// strictly optional.
func customAnswers(raw []byte) []questionAnswer {
	if len(raw) == 0 {
		return nil
	}

	var answers []questionAnswer
	gjson.GetBytes(raw, "customQuestionAnswers").ForEach(func(_, item gjson.Result) bool {
		question := item.Get("question").String()
		answer := item.Get("answer").String()
		if question != "" && answer != "" {
			answers = append(answers, questionAnswer{question: question, answer: answer})
		}
		return true
	})
	return answers
}

func canonicalKey(serviceName string) string {
	return strcase.ToSnake(strings.TrimSpace(serviceName))
}
