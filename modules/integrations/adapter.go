package integrations

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ProviderAdapter normalizes provider-specific webhook envelopes into
// the (event type, event id) pair the processor works with. One
// implementation exists per catalog entry; unknown payload shapes fall
// back to a body digest so deduplication still works for providers that
// do not assign delivery ids.
type ProviderAdapter interface {
	// Slug returns the catalog slug this adapter serves.
	Slug() string

	// ParseWebhook extracts the event type and a dedup id from a verified
	// raw body. Returns ErrInvalidPayload when the body is not a JSON
	// object at all.
	ParseWebhook(body []byte) (eventType, eventID string, err error)
}

// Adapters returns the adapter set for every catalog provider, keyed by
// slug.
func Adapters() map[string]ProviderAdapter {
	all := []ProviderAdapter{
		calendlyAdapter{},
		docusignAdapter{},
		slackAdapter{},
		googleAdapter{},
	}
	out := make(map[string]ProviderAdapter, len(all))
	for _, a := range all {
		out[a.Slug()] = a
	}
	return out
}

// derivedEventID produces a stable dedup id from the body for payloads
// that carry no provider-assigned id. Identical retried bodies map to
// the same id, which is exactly what dedup needs.
func derivedEventID(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256-" + hex.EncodeToString(sum[:16])
}

func decodeEnvelope(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

// calendlyAdapter handles Calendly's envelope:
// {"event":"invitee.created","payload":{...}} with a delivery id in
// "id" on newer webhook versions.
type calendlyAdapter struct{}

func (calendlyAdapter) Slug() string { return "calendly" }

func (calendlyAdapter) ParseWebhook(body []byte) (string, string, error) {
	var envelope struct {
		Event string `json:"event"`
		ID    string `json:"id"`
	}
	if err := decodeEnvelope(body, &envelope); err != nil {
		return "", "", err
	}
	id := envelope.ID
	if id == "" {
		id = derivedEventID(body)
	}
	return envelope.Event, id, nil
}

// docusignAdapter handles DocuSign Connect events:
// {"event":"envelope-completed","data":{"envelopeId":"env-123"}}.
// The envelope id is the natural dedup key since DocuSign redelivers
// the same envelope event on retry.
type docusignAdapter struct{}

func (docusignAdapter) Slug() string { return "docusign" }

func (docusignAdapter) ParseWebhook(body []byte) (string, string, error) {
	var envelope struct {
		Event string `json:"event"`
		Data  struct {
			EnvelopeID string `json:"envelopeId"`
		} `json:"data"`
	}
	if err := decodeEnvelope(body, &envelope); err != nil {
		return "", "", err
	}
	id := envelope.Data.EnvelopeID
	if id == "" {
		id = derivedEventID(body)
	}
	return envelope.Event, id, nil
}

// slackAdapter handles Slack Events API callbacks:
// {"type":"event_callback","event_id":"Ev123","event":{"type":"message"}}.
type slackAdapter struct{}

func (slackAdapter) Slug() string { return "slack" }

func (slackAdapter) ParseWebhook(body []byte) (string, string, error) {
	var envelope struct {
		Type    string `json:"type"`
		EventID string `json:"event_id"`
		Event   struct {
			Type string `json:"type"`
		} `json:"event"`
	}
	if err := decodeEnvelope(body, &envelope); err != nil {
		return "", "", err
	}

	eventType := envelope.Type
	if envelope.Type == "event_callback" && envelope.Event.Type != "" {
		eventType = envelope.Event.Type
	}
	id := envelope.EventID
	if id == "" {
		id = derivedEventID(body)
	}
	return eventType, id, nil
}

// googleAdapter handles the generic push envelope used for calendar and
// mail notifications: {"event_type":"...","id":"..."}.
type googleAdapter struct{}

func (googleAdapter) Slug() string { return "google" }

func (googleAdapter) ParseWebhook(body []byte) (string, string, error) {
	var envelope struct {
		EventType string `json:"event_type"`
		ID        string `json:"id"`
	}
	if err := decodeEnvelope(body, &envelope); err != nil {
		return "", "", err
	}
	id := envelope.ID
	if id == "" {
		id = derivedEventID(body)
	}
	return envelope.EventType, id, nil
}
