package events

const (
	// AttrMetadataType tags review messages that carry a metadata update.
	AttrMetadataType = "metadata_type"
	// AttrMessageType tags messages on the mailer topic.
	AttrMessageType = "messageType"
	// MessageTypeNotify is the only message type the mailer accepts.
	MessageTypeNotify = "notify"
)

// MetadataUpdate sets one metadata field on an existing photo.
type MetadataUpdate struct {
	ID    string `json:"id"`
	Field string `json:"field,omitempty"`
	Value string `json:"value"`
}

// StatusUpdate records a review decision.
type StatusUpdate struct {
	ID            string  `json:"id"`
	Decision      string  `json:"decision"`
	Reason        *string `json:"reason,omitempty"`
	NotifyAddress string  `json:"notify_address,omitempty"`
	Date          *string `json:"date,omitempty"`
}

// Notification is published by the status consumer for the mailer.
type Notification struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	Date     string  `json:"date"`
	Decision string  `json:"decision"`
	Reason   *string `json:"reason,omitempty"`
}
