package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Lifecycle event names emitted by the calling platform.
const (
	EventCallStarted  = "call_started"
	EventCallEnded    = "call_ended"
	EventCallAnalyzed = "call_analyzed"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

var ErrBadSignature = errors.New("telephony: webhook signature mismatch")

// WebhookEvent is one inbound lifecycle event. Call.CallID is the correlation key.
type WebhookEvent struct {
	Event string      `json:"event"`
	Call  CallPayload `json:"call"`
}

// CallPayload mirrors the provider call object. Pointer fields distinguish
// "absent" from "zero" so a merge only overwrites what the event carried.
type CallPayload struct {
	CallID              string  `json:"call_id"`
	AgentID             *string `json:"agent_id,omitempty"`
	CallStatus          *string `json:"call_status,omitempty"`
	FromNumber          *string `json:"from_number,omitempty"`
	ToNumber            *string `json:"to_number,omitempty"`
	StartTimestamp      *int64  `json:"start_timestamp,omitempty"`
	EndTimestamp        *int64  `json:"end_timestamp,omitempty"`
	DurationMS          *int64  `json:"duration_ms,omitempty"`
	Transcript          *string `json:"transcript,omitempty"`
	RecordingURL        *string `json:"recording_url,omitempty"`
	DisconnectionReason *string `json:"disconnection_reason,omitempty"`

	TranscriptObject json.RawMessage `json:"transcript_object,omitempty"`
	CallAnalysis     json.RawMessage `json:"call_analysis,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
}

// ParseWebhookEvent decodes a raw webhook body and checks the minimum shape.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("telephony: decode webhook: %w", err)
	}
	ev.Event = strings.TrimSpace(ev.Event)
	ev.Call.CallID = strings.TrimSpace(ev.Call.CallID)
	if ev.Event == "" {
		return WebhookEvent{}, errors.New("telephony: webhook event name missing")
	}
	if ev.Call.CallID == "" {
		return WebhookEvent{}, errors.New("telephony: webhook call_id missing")
	}
	return ev, nil
}

// VerifySignature checks header against the HMAC-SHA256 of body keyed by secret.
// Accepts a bare hex digest or one prefixed with "sha256=".
func VerifySignature(secret string, body []byte, header string) error {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if header == "" {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(header)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(got, Sign(secret, body)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
