package model

// Channel is an outbound notification channel
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// EscalationContact belongs to an organization. Priority 0 is notified
// first; higher priorities join at later escalation levels. Owned by the
// contacts-management layer, read-only here.
type EscalationContact struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Priority       int    `json:"priority"`
	Name           string `json:"name"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
	SMSEnabled     bool   `json:"sms_enabled"`
	EmailEnabled   bool   `json:"email_enabled"`
}

// Delivery pairs a contact with the channel the limiter admitted
type Delivery struct {
	Contact EscalationContact `json:"contact"`
	Channel Channel           `json:"channel"`
}

// NotificationJob is the payload enqueued for the delivery workers
type NotificationJob struct {
	OrganizationID string  `json:"organization_id"`
	AlertID        string  `json:"alert_id"`
	ContactID      string  `json:"contact_id"`
	Channel        Channel `json:"channel"`
	Message        string  `json:"message"`
}
