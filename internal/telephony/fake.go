package telephony

import (
	"context"
	"fmt"
	"sync"
)

// FakeProvider is an in-memory Provider for tests and local runs without provider credentials.
// Call ids are sequential (fake-call-1, fake-call-2, ...).
type FakeProvider struct {
	mu       sync.Mutex
	seq      int
	requests []CreateCallRequest
	calls    map[string]CallPayload

	// FailTo makes CreateCall fail for the listed E.164 numbers.
	FailTo map[string]bool
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{calls: map[string]CallPayload{}, FailTo: map[string]bool{}}
}

func (p *FakeProvider) Name() string { return "fake" }

func (p *FakeProvider) CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.FailTo[req.To] {
		return CreateCallResult{}, fmt.Errorf("%w: rejected %s", ErrProvider, req.To)
	}
	p.seq++
	id := fmt.Sprintf("fake-call-%d", p.seq)
	status := "registered"
	from, to := req.From, req.To
	p.calls[id] = CallPayload{CallID: id, CallStatus: &status, FromNumber: &from, ToNumber: &to}
	return CreateCallResult{ProviderCallID: id, Status: status}, nil
}

func (p *FakeProvider) GetCall(ctx context.Context, providerCallID string) (CallPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.calls[providerCallID]
	if !ok {
		return CallPayload{}, fmt.Errorf("%w: call %s not found", ErrProvider, providerCallID)
	}
	return c, nil
}

// SetCall replaces the details GetCall returns for a call id.
func (p *FakeProvider) SetCall(c CallPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[c.CallID] = c
}

// Requests returns every CreateCall request received, including failed ones.
func (p *FakeProvider) Requests() []CreateCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CreateCallRequest, len(p.requests))
	copy(out, p.requests)
	return out
}
