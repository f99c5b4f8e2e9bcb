package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 512

// RetellClient talks to a Retell-compatible voice-AI REST API.
// It holds no call state; sessions are persisted by internal/calls.
type RetellClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewRetellClient(baseURL, apiKey string, timeout time.Duration) *RetellClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RetellClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RetellClient) Name() string { return "retell" }

type retellCreateCallRequest struct {
	FromNumber       string            `json:"from_number"`
	ToNumber         string            `json:"to_number"`
	OverrideAgentID  string            `json:"override_agent_id,omitempty"`
	DynamicVariables map[string]string `json:"retell_llm_dynamic_variables,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type retellCreateCallResponse struct {
	CallID     string `json:"call_id"`
	CallStatus string `json:"call_status"`
}

func (c *RetellClient) CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error) {
	if req.From == "" || req.To == "" {
		return CreateCallResult{}, fmt.Errorf("%w: from and to required", ErrInvalidPhone)
	}
	body := retellCreateCallRequest{
		FromNumber:       req.From,
		ToNumber:         req.To,
		OverrideAgentID:  req.AgentID,
		DynamicVariables: req.DynamicVariables,
		Metadata:         req.Metadata,
	}
	var out retellCreateCallResponse
	if err := c.do(ctx, http.MethodPost, "/v2/create-phone-call", body, &out); err != nil {
		return CreateCallResult{}, err
	}
	if strings.TrimSpace(out.CallID) == "" {
		return CreateCallResult{}, fmt.Errorf("%w: response missing call_id", ErrProvider)
	}
	return CreateCallResult{ProviderCallID: out.CallID, Status: out.CallStatus}, nil
}

func (c *RetellClient) GetCall(ctx context.Context, providerCallID string) (CallPayload, error) {
	if providerCallID == "" {
		return CallPayload{}, errors.New("telephony: provider call id required")
	}
	var out CallPayload
	if err := c.do(ctx, http.MethodGet, "/v2/get-call/"+url.PathEscape(providerCallID), nil, &out); err != nil {
		return CallPayload{}, err
	}
	if out.CallID == "" {
		out.CallID = providerCallID
	}
	return out, nil
}

func (c *RetellClient) do(ctx context.Context, method, path string, in, out any) error {
	var rdr io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("telephony: encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrProvider, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	return nil
}
