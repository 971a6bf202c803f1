package agent

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"maintline/internal/apperr"
	"maintline/internal/domain"
	"maintline/internal/engine"
)

const (
	ChatStatusDisabled = "disabled"
	ChatStatusNotReady = "not_ready"
	ChatStatusError    = "error"

	promptToolName   = "chat_prompt"
	maxPromptLength  = 4000
	maxAgentIDLength = 128
	defaultSummary   = "Agent proposed action requires confirmation"
	runtimeFailure   = "Failed to contact agent runtime. Please try again later."
)

type PromptRequest struct {
	AgentID  string         `json:"agentId,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate applies the prompt size limits.
func (r PromptRequest) Validate() error {
	if utf8.RuneCountInString(r.AgentID) > maxAgentIDLength {
		return apperr.InvalidInput("Agent identifier length must be at most %d characters", maxAgentIDLength)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return apperr.InvalidInput("Prompt must not be blank")
	}
	if utf8.RuneCountInString(r.Prompt) > maxPromptLength {
		return apperr.InvalidInput("Prompt must be at most %d characters", maxPromptLength)
	}
	return nil
}

type ChatResponse struct {
	Status        string            `json:"status"`
	Message       string            `json:"message,omitempty"`
	AgentID       string            `json:"agentId,omitempty"`
	CorrelationID string            `json:"correlationId"`
	SessionID     string            `json:"sessionId,omitempty"`
	Messages      []ChatMessage     `json:"messages,omitempty"`
	Drafts        []DraftView       `json:"drafts,omitempty"`
	ToolCalls     []RuntimeToolCall `json:"toolCalls,omitempty"`
}

// UserContext is what the runtime learns about the acting user.
type UserContext struct {
	UserID    int64  `json:"userId"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	Role      string `json:"role,omitempty"`
	CompanyID *int64 `json:"companyId"`
}

func userContext(u domain.User) UserContext {
	uc := UserContext{UserID: u.ID, Email: u.Email, FullName: u.FullName}
	if u.Role != nil {
		uc.Role = u.Role.Name
	}
	if u.CompanyID != 0 {
		companyID := u.CompanyID
		uc.CompanyID = &companyID
	}
	return uc
}

func (s Service) Enabled() bool {
	return s.Config.ChatkitEnabled
}

func (s Service) agentID(requested string) string {
	if requested != "" {
		return requested
	}
	return s.Config.ChatkitAgentID
}

// DisabledResponse is the body served while the agent integration is off.
func (s Service) DisabledResponse(req PromptRequest) ChatResponse {
	return ChatResponse{
		Status:        ChatStatusDisabled,
		Message:       "ChatKit agent integration is not enabled for this environment.",
		AgentID:       s.agentID(req.AgentID),
		CorrelationID: s.correlationID(),
	}
}

// HandlePrompt relays a prompt to the runtime and stores whatever drafts it
// proposes as pending. Runtime failures come back as an error-status
// response, not as an error.
func (s Service) HandlePrompt(ctx context.Context, actor *domain.User, req PromptRequest) (ChatResponse, error) {
	if actor == nil {
		return ChatResponse{}, apperr.Unauthorized("Authentication required")
	}
	if err := req.Validate(); err != nil {
		return ChatResponse{}, err
	}
	if !s.Enabled() {
		return s.DisabledResponse(req), nil
	}
	agentID := s.agentID(req.AgentID)
	correlationID := s.correlationID()
	log := s.logger().With("correlation_id", correlationID, "user_id", actor.ID)

	if strings.TrimSpace(s.Config.RuntimeURL) == "" {
		log.Warn("agent runtime url not configured")
		return ChatResponse{
			Status:        ChatStatusNotReady,
			Message:       "Agent runtime is not configured. Please try again later.",
			AgentID:       agentID,
			CorrelationID: correlationID,
		}, nil
	}

	user := userContext(*actor)
	metadata := make(map[string]any, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["userContext"] = user
	metadata["correlationId"] = correlationID

	logID, err := s.openPromptLog(ctx, *actor, correlationID, metadata)
	if err != nil {
		return ChatResponse{}, err
	}

	res, err := s.Runtime.SendPrompt(ctx, RuntimeRequest{
		AgentID:  agentID,
		Prompt:   req.Prompt,
		Metadata: metadata,
		User:     user,
	}, correlationID)
	if err != nil {
		msg := err.Error()
		if uerr := s.Engine.Repo.UpdateInvocation(ctx, nil, logID, engine.InvocationFailed, nil, &msg); uerr != nil {
			log.Warn("close prompt log", "error", uerr)
		}
		log.Error("agent runtime call failed", "error", err)
		return ChatResponse{
			Status:        ChatStatusError,
			Message:       runtimeFailure,
			AgentID:       agentID,
			CorrelationID: correlationID,
		}, nil
	}

	var count *int
	if res.Messages != nil {
		n := len(res.Messages)
		count = &n
	}
	if err := s.Engine.Repo.UpdateInvocation(ctx, nil, logID, engine.InvocationCompleted, count, nil); err != nil {
		return ChatResponse{}, err
	}
	if err := s.recordToolCalls(ctx, *actor, correlationID, res.ToolCalls); err != nil {
		return ChatResponse{}, err
	}
	drafts, err := s.persistDrafts(ctx, *actor, res.SessionID, res.Drafts)
	if err != nil {
		return ChatResponse{}, err
	}
	log.Info("agent runtime responded", "status", res.Status, "drafts", len(drafts), "tool_calls", len(res.ToolCalls))
	return ChatResponse{
		Status:        res.Status,
		Message:       res.Message,
		AgentID:       res.AgentID,
		CorrelationID: correlationID,
		SessionID:     res.SessionID,
		Messages:      res.Messages,
		Drafts:        drafts,
		ToolCalls:     res.ToolCalls,
	}, nil
}

func marshalArguments(v any) *string {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

func invocationFor(actor domain.User, tool, correlationID string) domain.InvocationLog {
	l := domain.InvocationLog{ToolName: tool, CorrelationID: correlationID, UserID: &actor.ID}
	if actor.CompanyID != 0 {
		companyID := actor.CompanyID
		l.CompanyID = &companyID
	}
	return l
}

func (s Service) openPromptLog(ctx context.Context, actor domain.User, correlationID string, metadata map[string]any) (int64, error) {
	l := invocationFor(actor, promptToolName, correlationID)
	l.Status = engine.InvocationQueued
	l.ArgumentsJSON = marshalArguments(metadata)
	l.CreatedAt = s.now()
	return s.Engine.Repo.InsertInvocation(ctx, nil, l)
}

func (s Service) recordToolCalls(ctx context.Context, actor domain.User, correlationID string, calls []RuntimeToolCall) error {
	for _, call := range calls {
		l := invocationFor(actor, call.ToolName, correlationID)
		l.Status = call.Status
		l.ResultCount = call.ResultCount
		if call.Arguments != nil {
			l.ArgumentsJSON = marshalArguments(call.Arguments)
		}
		if call.Error != "" {
			e := call.Error
			l.ErrorMessage = &e
		}
		l.CreatedAt = s.now()
		if _, err := s.Engine.Repo.InsertInvocation(ctx, nil, l); err != nil {
			return err
		}
	}
	return nil
}

func (s Service) persistDrafts(ctx context.Context, actor domain.User, sessionID string, proposed []RuntimeDraft) ([]DraftView, error) {
	out := []DraftView{}
	if len(proposed) == 0 {
		return out, nil
	}
	tx, err := s.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	now := s.now()
	for _, p := range proposed {
		summary := p.Summary
		if strings.TrimSpace(summary) == "" {
			summary = defaultSummary
		}
		data := p.Payload
		if data == nil {
			data = map[string]any{}
		}
		encoded, err := draftPayload{"summary": summary, "data": data}.encode()
		if err != nil {
			return nil, err
		}
		d := domain.DraftAction{
			UserID:         actor.ID,
			AgentSessionID: p.AgentSessionID,
			OperationType:  p.OperationType,
			Payload:        encoded,
			Status:         domain.DraftPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if strings.TrimSpace(d.AgentSessionID) == "" {
			d.AgentSessionID = sessionID
		}
		if actor.CompanyID != 0 {
			companyID := actor.CompanyID
			d.CompanyID = &companyID
		}
		if d.ID, err = s.Engine.Repo.InsertDraft(ctx, tx, d); err != nil {
			return nil, err
		}
		out = append(out, draftView(d))
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}
