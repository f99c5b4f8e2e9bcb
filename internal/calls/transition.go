package calls

import (
	"bytes"
	"encoding/json"

	"outbound-dialer/internal/telephony"
)

// Transition describes the effect of applying one event to a session.
type Transition struct {
	From    Status
	To      Status
	Changed bool
}

// BecameTerminal reports whether this event moved the session into a terminal state.
func (t Transition) BecameTerminal() bool {
	return !t.From.IsTerminal() && t.To.IsTerminal()
}

// Apply merges a lifecycle event into s.
//
// Only fields present in the payload are written. Once a session is terminal its
// status is frozen and payload fields may only fill values that are still empty,
// so replays of the same event are no-ops.
func Apply(s *CallSession, ev telephony.WebhookEvent) Transition {
	t := Transition{From: s.Status}
	m := merger{fillOnly: s.Status.IsTerminal()}
	p := ev.Call

	switch ev.Event {
	case telephony.EventCallStarted:
		if !m.fillOnly && s.Status.rank() < StatusInProgress.rank() {
			s.Status = StatusInProgress
			m.changed = true
		}
		m.int64(&s.StartTimestamp, p.StartTimestamp)
		m.str(&s.ProviderStatus, p.CallStatus)

	case telephony.EventCallEnded:
		if !m.fillOnly {
			s.Status = MapProviderStatus(deref(p.CallStatus), deref(p.DisconnectionReason))
			m.changed = true
		}
		m.str(&s.ProviderStatus, p.CallStatus)
		m.int64(&s.StartTimestamp, p.StartTimestamp)
		m.int64(&s.EndTimestamp, p.EndTimestamp)
		m.str(&s.Transcript, p.Transcript)
		m.raw(&s.TranscriptObject, p.TranscriptObject)
		m.str(&s.RecordingURL, p.RecordingURL)
		m.str(&s.DisconnectionReason, p.DisconnectionReason)

		if s.StartTimestamp != nil && s.EndTimestamp != nil {
			d := *s.EndTimestamp - *s.StartTimestamp
			m.int64(&s.DurationMS, &d)
		} else {
			m.int64(&s.DurationMS, p.DurationMS)
		}

	case telephony.EventCallAnalyzed:
		// Analysis arrives after the call ended; it never affects status.
		if len(p.CallAnalysis) > 0 && !bytes.Equal(s.Analysis, p.CallAnalysis) {
			s.Analysis = append(json.RawMessage(nil), p.CallAnalysis...)
			m.changed = true
		}
	}

	t.To = s.Status
	t.Changed = m.changed
	return t
}

// IsKnownEvent reports whether name is a lifecycle event Apply understands.
func IsKnownEvent(name string) bool {
	switch name {
	case telephony.EventCallStarted, telephony.EventCallEnded, telephony.EventCallAnalyzed:
		return true
	default:
		return false
	}
}

type merger struct {
	fillOnly bool
	changed  bool
}

func (m *merger) str(dst *string, src *string) {
	if src == nil || *dst == *src {
		return
	}
	if m.fillOnly && *dst != "" {
		return
	}
	*dst = *src
	m.changed = true
}

func (m *merger) int64(dst **int64, src *int64) {
	if src == nil {
		return
	}
	if *dst != nil && (**dst == *src || m.fillOnly) {
		return
	}
	v := *src
	*dst = &v
	m.changed = true
}

func (m *merger) raw(dst *json.RawMessage, src json.RawMessage) {
	if len(src) == 0 || bytes.Equal(*dst, src) {
		return
	}
	if m.fillOnly && len(*dst) > 0 {
		return
	}
	*dst = append(json.RawMessage(nil), src...)
	m.changed = true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
