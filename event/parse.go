package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hookline/triage/id"
)

// ErrInvalidPayload indicates a structurally invalid webhook body.
// The gateway maps it to HTTP 400.
var ErrInvalidPayload = errors.New("event: invalid payload")

// ParseWebhook parses a raw webhook body into a WebhookEvent.
//
// Structural requirements (validated against the envelope schema): type must
// be a non-empty string, data an object, organizationId a non-empty string.
// Defaults applied: action=update, webhookTimestamp=receivedAt,
// webhookId=generated.
func ParseWebhook(body []byte, receivedAt time.Time) (*WebhookEvent, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if err := validateEnvelope(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if evt.Action == "" {
		evt.Action = ActionUpdate
	}
	if evt.WebhookTimestamp == 0 {
		evt.WebhookTimestamp = receivedAt.Unix()
	}
	if evt.WebhookID == "" {
		evt.WebhookID = id.NewWebhookID().String()
	}

	return &evt, nil
}
