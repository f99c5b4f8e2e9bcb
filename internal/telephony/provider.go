package telephony

import (
	"context"
	"errors"
)

var (
	// ErrInvalidPhone is returned before any provider call when a number cannot be normalized.
	ErrInvalidPhone = errors.New("telephony: invalid phone number")
	// ErrProvider wraps transport, HTTP and response-shape failures from the calling platform.
	ErrProvider = errors.New("telephony: provider error")
)

// Provider defines the calling-platform operations used by business logic.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Request/response types stay provider-agnostic; raw payloads are kept as JSON.
type Provider interface {
	Name() string

	CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error)
	GetCall(ctx context.Context, providerCallID string) (CallPayload, error)
}

// CreateCallRequest places one outbound call. From and To must already be E.164.
type CreateCallRequest struct {
	From    string `json:"from_number"`
	To      string `json:"to_number"`
	AgentID string `json:"agent_id,omitempty"`

	// DynamicVariables are passed to the voice agent prompt (e.g. the contact's name).
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`

	// Metadata is echoed back by the provider on webhook events.
	Metadata map[string]string `json:"metadata,omitempty"`
}

type CreateCallResult struct {
	ProviderCallID string `json:"provider_call_id"`
	Status         string `json:"status,omitempty"`
}
