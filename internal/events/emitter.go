package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"plangov/pkg/logging"
)

// Emitter packages reconciliation outcomes as structured events and fans
// them out to the configured sinks.
type Emitter struct {
	sinks     []Sink
	templates *MessageTemplateEngine
}

// NewEmitter creates an Emitter delivering to the given sinks.
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{
		sinks:     sinks,
		templates: NewMessageTemplateEngine(),
	}
}

// Emit builds an event from kind, data and optional before/after snapshots
// and delivers it to every sink. Sink failures are logged and swallowed.
func (e *Emitter) Emit(kind Kind, data Data, before, after map[string]interface{}) {
	event := Event{
		Kind:           kind,
		Identity:       data.Identity,
		Before:         before,
		After:          after,
		Timestamp:      time.Now().UTC(),
		ActionRequired: actionRequired(kind),
		Message:        e.templates.Render(kind, data),
	}

	logging.Debug("Events", "Emitting %s for %s: %s", kind, data.Identity, event.Message)

	for _, sink := range e.sinks {
		if err := sink.Deliver(event); err != nil {
			logging.Error("Events", err, "Sink delivery failed for %s event on %s", kind, data.Identity)
		}
	}
}

// actionRequired marks the kinds where automatic remediation did not fully
// restore compliance.
func actionRequired(kind Kind) bool {
	switch kind {
	case KindCorrectionFailed, KindUnmanagedDetected, KindManagedPlanDeleted, KindPlanDeletedPending:
		return true
	}
	return false
}

// LogSink writes every event through the structured logger. It is always
// attached so each state mutation leaves a readable trace.
type LogSink struct{}

// Deliver implements Sink.
func (LogSink) Deliver(event Event) error {
	logging.Info("Notify", "[%s] %s (action_required=%t)", event.Kind, event.Message, event.ActionRequired)
	return nil
}

// WebhookSink POSTs events as JSON to a notification endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink for the given URL.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Deliver implements Sink.
func (s *WebhookSink) Deliver(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &DeliveryError{Status: resp.StatusCode}
	}
	return nil
}

// DeliveryError reports a non-success response from a webhook endpoint.
type DeliveryError struct {
	Status int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.Status)
}
