package calls

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
	ErrAlreadyCalled   = errors.New("calls: target already has a call session")
	ErrNotTerminal     = errors.New("calls: session is not terminal")
)

// TargetKind tags which contact namespace a call belongs to.
type TargetKind string

const (
	TargetPatient TargetKind = "patient"
	TargetLead    TargetKind = "lead"
)

func (k TargetKind) Valid() bool {
	switch k {
	case TargetPatient, TargetLead:
		return true
	default:
		return false
	}
}

// TargetRef identifies a contact record owned by an external collaborator.
type TargetRef struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func (r TargetRef) Validate() error {
	if !r.Kind.Valid() || r.ID == "" {
		return ErrInvalidArgument
	}
	return nil
}

// Target is a resolved contact with the details needed to dial it.
type Target struct {
	Ref   TargetRef `json:"ref"`
	Name  string    `json:"name"`
	Phone string    `json:"phone"`
}

// CallSession is one attempt to reach one contact through the calling platform.
//
// Invariants:
// - ProviderCallID is unique across all sessions (webhook correlation key).
// - Created in StatusInitiated; mutated only by webhook processing afterwards.
// - Status never changes once terminal.
type CallSession struct {
	ID             string    `json:"id" db:"id"`
	ProviderCallID string    `json:"provider_call_id" db:"provider_call_id"`
	Target         TargetRef `json:"target"`
	BulkSessionID  string    `json:"bulk_session_id,omitempty" db:"bulk_session_id"`

	FromNumber string `json:"from_number" db:"from_number"`
	ToNumber   string `json:"to_number" db:"to_number"`
	AgentID    string `json:"agent_id,omitempty" db:"agent_id"`

	Status Status `json:"status" db:"status"`
	// ProviderStatus is the raw status string last reported by the provider.
	ProviderStatus string `json:"provider_status,omitempty" db:"provider_status"`

	// Provider clock, epoch milliseconds.
	StartTimestamp *int64 `json:"start_timestamp,omitempty" db:"start_timestamp"`
	EndTimestamp   *int64 `json:"end_timestamp,omitempty" db:"end_timestamp"`
	DurationMS     *int64 `json:"duration_ms,omitempty" db:"duration_ms"`

	Transcript          string          `json:"transcript,omitempty" db:"transcript"`
	TranscriptObject    json.RawMessage `json:"transcript_object,omitempty" db:"transcript_object"`
	RecordingURL        string          `json:"recording_url,omitempty" db:"recording_url"`
	DisconnectionReason string          `json:"disconnection_reason,omitempty" db:"disconnection_reason"`
	Analysis            json.RawMessage `json:"analysis,omitempty" db:"analysis"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (s CallSession) HasTranscript() bool { return s.Transcript != "" }

// CallSummary is the one-per-session summary produced once a call is terminal.
type CallSummary struct {
	SessionID       string         `json:"session_id" db:"session_id"`
	Summary         string         `json:"summary" db:"summary"`
	KeyPoints       []string       `json:"key_points" db:"key_points"`
	ConcerningFlags []string       `json:"concerning_flags" db:"concerning_flags"`
	HealthMetrics   map[string]any `json:"health_metrics" db:"health_metrics"`
	ConfidenceScore float64        `json:"confidence_score" db:"confidence_score"`

	// Mode records which pipeline path produced the summary (ai, parse_failed, ai_failed, fallback).
	Mode string `json:"mode" db:"mode"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
