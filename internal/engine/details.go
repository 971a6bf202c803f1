package engine

import (
	"context"
	"time"

	"maintline/internal/domain"
	"maintline/internal/engine/auth"
	"maintline/internal/events"
)

type RefSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type AssetRef struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	CustomID string `json:"customId,omitempty"`
	Status   string `json:"status"`
}

type UserRef struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type TaskDetail struct {
	ID        int64   `json:"id"`
	Label     string  `json:"label"`
	TaskValue *string `json:"taskValue,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

type LaborDetail struct {
	ID              int64     `json:"id"`
	WorkerName      string    `json:"workerName"`
	DurationSeconds int64     `json:"durationSeconds"`
	StartedAt       time.Time `json:"startedAt"`
	Status          string    `json:"status"`
	TimeCategory    string    `json:"timeCategory,omitempty"`
}

type HistoryDetail struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	UserName  string    `json:"userName,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type FileRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Details is the full read model of one work order.
type Details struct {
	ID                 int64           `json:"id"`
	Code               string          `json:"code,omitempty"`
	Title              string          `json:"title"`
	Description        *string         `json:"description,omitempty"`
	Status             string          `json:"status"`
	Priority           string          `json:"priority"`
	DueDate            *time.Time      `json:"dueDate,omitempty"`
	EstimatedStartDate *time.Time      `json:"estimatedStartDate,omitempty"`
	EstimatedDuration  float64         `json:"estimatedDuration"`
	CompletedOn        *time.Time      `json:"completedOn,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	Asset              *AssetRef       `json:"asset,omitempty"`
	Location           *RefSummary     `json:"location,omitempty"`
	PrimaryUser        *UserRef        `json:"primaryUser,omitempty"`
	AssignedUsers      []UserRef       `json:"assignedUsers"`
	Team               *RefSummary     `json:"team,omitempty"`
	Category           *RefSummary     `json:"category,omitempty"`
	Tasks              []TaskDetail    `json:"tasks"`
	Labor              []LaborDetail   `json:"labor"`
	History            []HistoryDetail `json:"history"`
	Files              []FileRef       `json:"files"`
}

// WorkOrderDetails resolves identifier and assembles its read model.
func (e Engine) WorkOrderDetails(ctx context.Context, actor *domain.User, identifier string) (Details, error) {
	if err := auth.EnsureToolAccess(actor); err != nil {
		return Details{}, err
	}
	w, err := e.ResolveWorkOrder(ctx, nil, actor.CompanyID, identifier)
	if err != nil {
		return Details{}, err
	}
	d := Details{
		ID:                 w.ID,
		Code:               w.Code,
		Title:              w.Title,
		Description:        w.Description,
		Status:             string(w.Status),
		Priority:           string(w.Priority),
		DueDate:            w.DueDate,
		EstimatedStartDate: w.EstimatedStartDate,
		EstimatedDuration:  w.EstimatedDuration,
		CompletedOn:        w.CompletedOn,
		CreatedAt:          w.CreatedAt,
		UpdatedAt:          w.UpdatedAt,
		AssignedUsers:      []UserRef{},
		Tasks:              []TaskDetail{},
		Labor:              []LaborDetail{},
		History:            []HistoryDetail{},
		Files:              []FileRef{},
	}
	if w.AssetID != nil {
		if a, err := e.Repo.GetAsset(ctx, nil, *w.AssetID); err == nil {
			ref := AssetRef{ID: a.ID, Name: a.Name, Status: a.Status}
			if a.CustomID != nil {
				ref.CustomID = *a.CustomID
			}
			d.Asset = &ref
		} else if !isNotFound(err) {
			return Details{}, err
		}
	}
	if w.LocationID != nil {
		if l, err := e.Repo.GetLocation(ctx, nil, *w.LocationID); err == nil {
			d.Location = &RefSummary{ID: l.ID, Name: l.Name}
		} else if !isNotFound(err) {
			return Details{}, err
		}
	}
	if w.TeamID != nil {
		if t, err := e.Repo.GetTeam(ctx, nil, *w.TeamID); err == nil {
			d.Team = &RefSummary{ID: t.ID, Name: t.Name}
		} else if !isNotFound(err) {
			return Details{}, err
		}
	}
	if w.CategoryID != nil {
		if c, err := e.Repo.GetCategory(ctx, nil, *w.CategoryID); err == nil {
			d.Category = &RefSummary{ID: c.ID, Name: c.Name}
		} else if !isNotFound(err) {
			return Details{}, err
		}
	}

	labor, err := e.Repo.ListLabor(ctx, nil, w.ID)
	if err != nil {
		return Details{}, err
	}
	history, err := events.List(ctx, e.DB, w.ID)
	if err != nil {
		return Details{}, err
	}
	ids := append([]int64{}, w.AssignedUserIDs...)
	if w.PrimaryUserID != nil {
		ids = append(ids, *w.PrimaryUserID)
	}
	for _, l := range labor {
		ids = append(ids, l.UserID)
	}
	for _, h := range history {
		if h.UserID != nil {
			ids = append(ids, *h.UserID)
		}
	}
	users, err := e.userNames(ctx, nil, ids)
	if err != nil {
		return Details{}, err
	}
	userRef := func(id int64) UserRef {
		u := users[id]
		return UserRef{ID: id, FullName: u.FullName, Email: u.Email}
	}
	if w.PrimaryUserID != nil {
		ref := userRef(*w.PrimaryUserID)
		d.PrimaryUser = &ref
	}
	for _, id := range w.AssignedUserIDs {
		d.AssignedUsers = append(d.AssignedUsers, userRef(id))
	}
	for _, l := range labor {
		d.Labor = append(d.Labor, LaborDetail{
			ID:              l.ID,
			WorkerName:      displayName(users[l.UserID]),
			DurationSeconds: l.DurationSeconds,
			StartedAt:       l.StartedAt,
			Status:          string(l.Status),
			TimeCategory:    l.TimeCategory,
		})
	}
	for _, h := range history {
		entry := HistoryDetail{ID: h.ID, Action: h.Action, Timestamp: h.CreatedAt}
		if h.UserID != nil {
			entry.UserName = displayName(users[*h.UserID])
		}
		d.History = append(d.History, entry)
	}

	tasks, err := e.Repo.ListTasks(ctx, nil, w.ID)
	if err != nil {
		return Details{}, err
	}
	for _, t := range tasks {
		d.Tasks = append(d.Tasks, TaskDetail{ID: t.ID, Label: t.Label, TaskValue: t.Value, Notes: t.Notes})
	}
	files, err := e.Repo.ListWorkOrderFiles(ctx, nil, w.ID)
	if err != nil {
		return Details{}, err
	}
	for _, f := range files {
		d.Files = append(d.Files, FileRef{ID: f.ID, Name: f.Name, URL: f.URL})
	}
	return d, nil
}
