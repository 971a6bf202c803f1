package engine

import (
	"context"
	"encoding/json"

	"maintline/internal/domain"
)

const (
	InvocationQueued    = "queued"
	InvocationCompleted = "completed"
	InvocationFailed    = "failed"
)

// RecordToolInvocation appends an audit row for a tool call. Audit failures
// are logged and never surface to the caller.
func (e Engine) RecordToolInvocation(ctx context.Context, actor *domain.User, tool, correlationID string, args any, resultCount int, callErr error) {
	entry := domain.InvocationLog{
		ToolName:      tool,
		Status:        InvocationCompleted,
		CorrelationID: correlationID,
		CreatedAt:     e.now(),
	}
	if actor != nil {
		entry.UserID = &actor.ID
		if actor.CompanyID != 0 {
			companyID := actor.CompanyID
			entry.CompanyID = &companyID
		}
	}
	if args != nil {
		if data, err := json.Marshal(args); err == nil {
			s := string(data)
			entry.ArgumentsJSON = &s
		}
	}
	if callErr != nil {
		msg := callErr.Error()
		entry.Status = InvocationFailed
		entry.ErrorMessage = &msg
	} else {
		entry.ResultCount = &resultCount
	}
	if _, err := e.Repo.InsertInvocation(ctx, nil, entry); err != nil {
		e.logger().Warn("record tool invocation", "tool", tool, "correlation_id", correlationID, "error", err)
	}
}
