package handlers

import (
	"context"
	"time"

	"templerunner/pkg/api"
)

// Mock submitter
type mockSubmitter struct {
	resp     api.CompileResponse
	calls    int
	source   string
	deadline time.Time
	hasDl    bool
}

func (m *mockSubmitter) Submit(ctx context.Context, source string) api.CompileResponse {
	m.calls++
	m.source = source
	m.deadline, m.hasDl = ctx.Deadline()
	return m.resp
}
