package bookings

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/deskbridge/deskbridge/pkg/connector"
)

// dateTimeTimeZone is the Graph-style split timestamp envelope used on
// appointment start and end times.
type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// apiAppointment is the wire shape of a booking appointment. Fields the
// connector does not map are preserved through the raw payload instead.
type apiAppointment struct {
	ID                   string           `json:"id"`
	ServiceID            string           `json:"serviceId"`
	ServiceName          string           `json:"serviceName"`
	CustomerName         string           `json:"customerName"`
	CustomerEmailAddress string           `json:"customerEmailAddress"`
	CustomerPhone        string           `json:"customerPhone"`
	ServiceNotes         string           `json:"serviceNotes"`
	CreatedDateTime      string           `json:"createdDateTime"`
	StartDateTime        dateTimeTimeZone `json:"startDateTime"`
	EndDateTime          dateTimeTimeZone `json:"endDateTime"`
}

// decodeAppointment converts one raw appointment payload into the
// connector's Appointment type. Timestamps arrive in a handful of
// formats depending on the tenant, so parsing is tolerant.
func decodeAppointment(raw json.RawMessage) (connector.Appointment, error) {
	var api apiAppointment
	if err := json.Unmarshal(raw, &api); err != nil {
		return connector.Appointment{}, fmt.Errorf("decoding appointment: %w", err)
	}

	appt := connector.Appointment{
		ID:            api.ID,
		ServiceID:     api.ServiceID,
		ServiceName:   api.ServiceName,
		CustomerName:  api.CustomerName,
		CustomerEmail: api.CustomerEmailAddress,
		CustomerPhone: api.CustomerPhone,
		Notes:         api.ServiceNotes,
		TimeZone:      api.StartDateTime.TimeZone,
		Raw:           append([]byte(nil), raw...),
	}

	if api.CreatedDateTime != "" {
		t, err := dateparse.ParseAny(api.CreatedDateTime)
		if err != nil {
			return connector.Appointment{}, fmt.Errorf("appointment %s: parsing createdDateTime %q: %w", api.ID, api.CreatedDateTime, err)
		}
		appt.Created = t.UTC()
	}

	if s := strings.TrimSpace(api.StartDateTime.DateTime); s != "" {
		t, err := dateparse.ParseAny(s)
		if err != nil {
			return connector.Appointment{}, fmt.Errorf("appointment %s: parsing startDateTime %q: %w", api.ID, s, err)
		}
		appt.Start = t.UTC()
	}

	if s := strings.TrimSpace(api.EndDateTime.DateTime); s != "" {
		// End is optional; a malformed value is dropped rather than
		// failing the appointment.
		if t, err := dateparse.ParseAny(s); err == nil {
			appt.End = t.UTC()
		}
	}

	return appt, nil
}

// cursorFilter renders the OData filter clause for a cursor position.
func cursorFilter(since time.Time) string {
	return fmt.Sprintf("createdDateTime gt %s", since.UTC().Format(time.RFC3339))
}
