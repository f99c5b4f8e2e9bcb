package telephony

import (
	"encoding/hex"
	"errors"
	"testing"
)

func TestParseWebhookEvent_TracksPresence(t *testing.T) {
	body := []byte(`{"event":"call_ended","call":{"call_id":"call_1","call_status":"ended","transcript":"","end_timestamp":1700000060000}}`)

	ev, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.Event != EventCallEnded || ev.Call.CallID != "call_1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Call.Transcript == nil || *ev.Call.Transcript != "" {
		t.Fatalf("expected present-but-empty transcript")
	}
	if ev.Call.RecordingURL != nil {
		t.Fatalf("expected absent recording url")
	}
	if ev.Call.EndTimestamp == nil || *ev.Call.EndTimestamp != 1700000060000 {
		t.Fatalf("expected end timestamp")
	}
}

func TestParseWebhookEvent_RequiresCallID(t *testing.T) {
	if _, err := ParseWebhookEvent([]byte(`{"event":"call_started","call":{}}`)); err == nil {
		t.Fatalf("expected error for missing call_id")
	}
	if _, err := ParseWebhookEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"call_started"}`)
	sig := hex.EncodeToString(Sign("s3cret", body))

	if err := VerifySignature("s3cret", body, sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := VerifySignature("s3cret", body, "sha256="+sig); err != nil {
		t.Fatalf("expected prefixed signature accepted, got %v", err)
	}
	if err := VerifySignature("other", body, sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if err := VerifySignature("s3cret", body, ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for empty header, got %v", err)
	}
}
