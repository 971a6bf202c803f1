package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusOnHold     Status = "ON_HOLD"
	StatusComplete   Status = "COMPLETE"
)

// ParseStatus accepts any casing and spaces in place of underscores.
func ParseStatus(candidate string) (Status, bool) {
	normalized := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(candidate)), " ", "_")
	switch Status(normalized) {
	case StatusOpen, StatusInProgress, StatusOnHold, StatusComplete:
		return Status(normalized), true
	}
	return "", false
}

// Label renders the status for humans ("IN PROGRESS").
func (s Status) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

type Priority string

const (
	PriorityNone   Priority = "NONE"
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func ParsePriority(candidate string) (Priority, bool) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(candidate))); p {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh:
		return p, true
	}
	return "", false
}

type RoleCode string

const (
	RoleAdmin             RoleCode = "ADMIN"
	RoleLimitedAdmin      RoleCode = "LIMITED_ADMIN"
	RoleTechnician        RoleCode = "TECHNICIAN"
	RoleLimitedTechnician RoleCode = "LIMITED_TECHNICIAN"
	RoleRequester         RoleCode = "REQUESTER"
	RoleViewOnly          RoleCode = "VIEW_ONLY"
)

type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Role struct {
	ID        int64    `json:"id"`
	CompanyID int64    `json:"company_id"`
	Code      RoleCode `json:"code"`
	Name      string   `json:"name"`
}

// User is the acting principal for every tool call. CompanyID is zero when
// the user has no tenant.
type User struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Enabled   bool   `json:"enabled"`
	Role      *Role  `json:"role,omitempty"`
}

// HasRole matches the role code, or the role name against a code.
func (u User) HasRole(codes ...RoleCode) bool {
	if u.Role == nil {
		return false
	}
	for _, code := range codes {
		if u.Role.Code == code || strings.EqualFold(u.Role.Name, string(code)) {
			return true
		}
	}
	return false
}

type WorkOrder struct {
	ID                 int64      `json:"id"`
	Code               string     `json:"code"`
	CompanyID          int64      `json:"company_id"`
	Title              string     `json:"title"`
	Description        *string    `json:"description,omitempty"`
	Status             Status     `json:"status" enum:"OPEN,IN_PROGRESS,ON_HOLD,COMPLETE"`
	Archived           bool       `json:"archived"`
	Priority           Priority   `json:"priority" enum:"NONE,LOW,MEDIUM,HIGH"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	EstimatedStartDate *time.Time `json:"estimated_start_date,omitempty"`
	EstimatedDuration  float64    `json:"estimated_duration"`
	RequireSignature   bool       `json:"require_signature"`
	PrimaryUserID      *int64     `json:"primary_user_id,omitempty"`
	AssignedUserIDs    []int64    `json:"assigned_user_ids,omitempty"`
	TeamID             *int64     `json:"team_id,omitempty"`
	CategoryID         *int64     `json:"category_id,omitempty"`
	LocationID         *int64     `json:"location_id,omitempty"`
	AssetID            *int64     `json:"asset_id,omitempty"`
	CompletedByID      *int64     `json:"completed_by_id,omitempty"`
	CompletedOn        *time.Time `json:"completed_on,omitempty"`
	SignatureFileID    *int64     `json:"signature_file_id,omitempty"`
	Feedback           *string    `json:"feedback,omitempty"`
	OnHoldReasonCode   *string    `json:"on_hold_reason_code,omitempty"`
	StatusBeforeHold   *Status    `json:"status_before_hold,omitempty"`
	StatusChangeNotes  *string    `json:"status_change_notes,omitempty"`
	FirstTimeToReact   *time.Time `json:"first_time_to_react,omitempty"`
	CreatedByID        *int64     `json:"created_by_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsAssigned reports whether the user is the primary or an assigned user.
func (w WorkOrder) IsAssigned(userID int64) bool {
	if w.PrimaryUserID != nil && *w.PrimaryUserID == userID {
		return true
	}
	for _, id := range w.AssignedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Asset struct {
	ID         int64     `json:"id"`
	CompanyID  int64     `json:"company_id"`
	Name       string    `json:"name"`
	CustomID   *string   `json:"custom_id,omitempty"`
	Status     string    `json:"status"`
	LocationID *int64    `json:"location_id,omitempty"`
	Category   *string   `json:"category,omitempty"`
	Archived   bool      `json:"archived"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Location struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
}

type Team struct {
	ID        int64   `json:"id"`
	CompanyID int64   `json:"company_id"`
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"member_ids,omitempty"`
}

type Category struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
}

type File struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
}

// Task is a checklist item on a work order.
type Task struct {
	ID          int64   `json:"id"`
	WorkOrderID int64   `json:"work_order_id"`
	Label       string  `json:"label"`
	Value       *string `json:"value,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// Incomplete treats empty values and open-ish statuses as not done.
func (t Task) Incomplete() bool {
	if t.Value == nil || strings.TrimSpace(*t.Value) == "" {
		return true
	}
	switch strings.ToUpper(strings.TrimSpace(*t.Value)) {
	case string(StatusOpen), string(StatusInProgress), string(StatusOnHold):
		return true
	}
	return false
}

type LaborStatus string

const (
	LaborRunning LaborStatus = "RUNNING"
	LaborStopped LaborStatus = "STOPPED"
)

type Labor struct {
	ID              int64       `json:"id"`
	WorkOrderID     int64       `json:"work_order_id"`
	UserID          int64       `json:"user_id"`
	Status          LaborStatus `json:"status"`
	StartedAt       time.Time   `json:"started_at"`
	StoppedAt       *time.Time  `json:"stopped_at,omitempty"`
	DurationSeconds int64       `json:"duration_seconds"`
	TimeCategory    string      `json:"time_category,omitempty"`
}

type HistoryEntry struct {
	ID          int64     `json:"id"`
	WorkOrderID int64     `json:"work_order_id"`
	UserID      *int64    `json:"user_id,omitempty"`
	Action      string    `json:"action"`
	CreatedAt   time.Time `json:"created_at"`
}

type Notification struct {
	ID          int64      `json:"id"`
	CompanyID   int64      `json:"company_id"`
	UserID      int64      `json:"user_id"`
	Type        string     `json:"type"`
	ResourceID  int64      `json:"resource_id"`
	Message     string     `json:"message"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}

type DraftStatus string

const (
	DraftPending  DraftStatus = "pending"
	DraftApplied  DraftStatus = "applied"
	DraftDeclined DraftStatus = "declined"
	DraftFailed   DraftStatus = "failed"
)

type DraftAction struct {
	ID             int64       `json:"id"`
	UserID         int64       `json:"user_id"`
	CompanyID      *int64      `json:"company_id,omitempty"`
	AgentSessionID string      `json:"agent_session_id"`
	OperationType  string      `json:"operation_type"`
	Payload        string      `json:"payload"`
	Status         DraftStatus `json:"status" enum:"pending,applied,declined,failed"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// IsPending compares case-insensitively; older rows may carry upper-case values.
func (d DraftAction) IsPending() bool {
	return strings.EqualFold(string(d.Status), string(DraftPending))
}

type InvocationLog struct {
	ID            int64     `json:"id"`
	UserID        *int64    `json:"user_id,omitempty"`
	CompanyID     *int64    `json:"company_id,omitempty"`
	ToolName      string    `json:"tool_name"`
	ArgumentsJSON *string   `json:"arguments_json,omitempty"`
	ResultCount   *int      `json:"result_count,omitempty"`
	Status        string    `json:"status"`
	CorrelationID string    `json:"correlation_id"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// APIKey is stored by hash only; the plaintext is shown once at issue time.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     int64      `json:"user_id"`
	Name       string     `json:"name,omitempty"`
	KeyHash    string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func (k APIKey) Active() bool {
	return k.RevokedAt == nil
}
