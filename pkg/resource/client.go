package resource

import (
	"context"

	"github.com/dirgogoo/mdap/pkg/llm"
)

// InstrumentedClient decorates an llm.Client so every completed call —
// sampling and discrimination alike — lands in the same counters.
type InstrumentedClient struct {
	inner llm.Client
	mgr   *Manager
}

// Instrument wraps client with call accounting.
func Instrument(client llm.Client, mgr *Manager) *InstrumentedClient {
	return &InstrumentedClient{inner: client, mgr: mgr}
}

// Complete forwards the call and records its usage. Failed calls are
// still counted: the provider bills attempts that returned usage, and a
// call that died in transport costs a retry slot either way.
func (c *InstrumentedClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	resp, err := c.inner.Complete(ctx, req)
	c.mgr.RecordCall(resp.InputTokens, resp.OutputTokens)
	return resp, err
}
