package engine

import (
	"context"
	"strings"
	"time"

	"maintline/internal/domain"
	"maintline/internal/engine/auth"
	"maintline/internal/repo"
)

// ToolResponse is the envelope every list-returning tool answers with.
type ToolResponse[T any] struct {
	Results []T `json:"results"`
	Total   int `json:"total"`
}

func toolResponse[T any](items []T) ToolResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ToolResponse[T]{Results: items, Total: len(items)}
}

type SearchRequest struct {
	Statuses         []string `json:"statuses,omitempty"`
	Search           string   `json:"search,omitempty"`
	Limit            int      `json:"limit,omitempty"`
	DueBefore        string   `json:"dueBefore,omitempty"`
	DueAfter         string   `json:"dueAfter,omitempty"`
	CreatedBefore    string   `json:"createdBefore,omitempty"`
	CreatedAfter     string   `json:"createdAfter,omitempty"`
	UpdatedBefore    string   `json:"updatedBefore,omitempty"`
	UpdatedAfter     string   `json:"updatedAfter,omitempty"`
	AssignedToUserID *int64   `json:"assignedToUserId,omitempty"`
	PrimaryUserID    *int64   `json:"primaryUserId,omitempty"`
	TeamID           *int64   `json:"teamId,omitempty"`
	AssetID          *int64   `json:"assetId,omitempty"`
	LocationID       *int64   `json:"locationId,omitempty"`
	CategoryID       *int64   `json:"categoryId,omitempty"`
	Priorities       []string `json:"priorities,omitempty"`
	SortBy           string   `json:"sortBy,omitempty"`
	SortDirection    string   `json:"sortDirection,omitempty"`
}

type WorkOrderSummary struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code,omitempty"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	Priority  string     `json:"priority"`
	Asset     string     `json:"asset,omitempty"`
	Location  string     `json:"location,omitempty"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// SearchWorkOrders lists non-archived work orders of the actor's company.
// Unrecognised statuses and priorities are ignored.
func (e Engine) SearchWorkOrders(ctx context.Context, actor *domain.User, req SearchRequest) (ToolResponse[WorkOrderSummary], error) {
	if err := auth.EnsureToolAccess(actor); err != nil {
		return ToolResponse[WorkOrderSummary]{}, err
	}
	f := repo.WorkOrderFilters{
		CompanyID:        actor.CompanyID,
		Search:           req.Search,
		AssignedToUserID: req.AssignedToUserID,
		PrimaryUserID:    req.PrimaryUserID,
		TeamID:           req.TeamID,
		AssetID:          req.AssetID,
		LocationID:       req.LocationID,
		CategoryID:       req.CategoryID,
		SortBy:           req.SortBy,
		Descending:       !strings.EqualFold(strings.TrimSpace(req.SortDirection), "ASC"),
		Limit:            e.resolveLimit(req.Limit),
	}
	seen := map[domain.Status]bool{}
	for _, candidate := range req.Statuses {
		if s, ok := domain.ParseStatus(candidate); ok && !seen[s] {
			seen[s] = true
			f.Statuses = append(f.Statuses, s)
		}
	}
	for _, candidate := range req.Priorities {
		if p, ok := domain.ParsePriority(candidate); ok {
			f.Priorities = append(f.Priorities, p)
		}
	}
	for _, d := range []struct {
		raw string
		dst **time.Time
	}{
		{req.DueBefore, &f.DueBefore}, {req.DueAfter, &f.DueAfter},
		{req.CreatedBefore, &f.CreatedBefore}, {req.CreatedAfter, &f.CreatedAfter},
		{req.UpdatedBefore, &f.UpdatedBefore}, {req.UpdatedAfter, &f.UpdatedAfter},
	} {
		t, err := ParseDate(d.raw)
		if err != nil {
			return ToolResponse[WorkOrderSummary]{}, err
		}
		*d.dst = t
	}
	orders, err := e.Repo.SearchWorkOrders(ctx, f)
	if err != nil {
		return ToolResponse[WorkOrderSummary]{}, err
	}
	assets := map[int64]string{}
	locations := map[int64]string{}
	items := make([]WorkOrderSummary, 0, len(orders))
	for _, w := range orders {
		s := WorkOrderSummary{
			ID:        w.ID,
			Code:      w.Code,
			Title:     w.Title,
			Status:    string(w.Status),
			Priority:  string(w.Priority),
			DueDate:   w.DueDate,
			UpdatedAt: w.UpdatedAt,
		}
		if w.AssetID != nil {
			s.Asset, err = e.cachedName(assets, *w.AssetID, func() (string, error) {
				a, err := e.Repo.GetAsset(ctx, nil, *w.AssetID)
				return a.Name, err
			})
			if err != nil {
				return ToolResponse[WorkOrderSummary]{}, err
			}
		}
		if w.LocationID != nil {
			s.Location, err = e.cachedName(locations, *w.LocationID, func() (string, error) {
				l, err := e.Repo.GetLocation(ctx, nil, *w.LocationID)
				return l.Name, err
			})
			if err != nil {
				return ToolResponse[WorkOrderSummary]{}, err
			}
		}
		items = append(items, s)
	}
	return toolResponse(items), nil
}

func (e Engine) cachedName(cache map[int64]string, id int64, load func() (string, error)) (string, error) {
	if name, ok := cache[id]; ok {
		return name, nil
	}
	name, err := load()
	if isNotFound(err) {
		name, err = "", nil
	}
	if err != nil {
		return "", err
	}
	cache[id] = name
	return name, nil
}

type AssetSearchRequest struct {
	Statuses []string `json:"statuses,omitempty"`
	Search   string   `json:"search,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

type AssetSummary struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
	CustomID string `json:"customId,omitempty"`
	Category string `json:"category,omitempty"`
}

// NormalizeAssetStatus upper-cases and replaces spaces ("down planned" -> DOWN_PLANNED).
func NormalizeAssetStatus(candidate string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(candidate)), " ", "_")
}

func (e Engine) SearchAssets(ctx context.Context, actor *domain.User, req AssetSearchRequest) (ToolResponse[AssetSummary], error) {
	if err := auth.EnsureToolAccess(actor); err != nil {
		return ToolResponse[AssetSummary]{}, err
	}
	f := repo.AssetFilters{CompanyID: actor.CompanyID, Search: req.Search, Limit: e.resolveLimit(req.Limit)}
	seen := map[string]bool{}
	for _, candidate := range req.Statuses {
		if s := NormalizeAssetStatus(candidate); s != "" && !seen[s] {
			seen[s] = true
			f.Statuses = append(f.Statuses, s)
		}
	}
	assets, err := e.Repo.SearchAssets(ctx, f)
	if err != nil {
		return ToolResponse[AssetSummary]{}, err
	}
	locations := map[int64]string{}
	items := make([]AssetSummary, 0, len(assets))
	for _, a := range assets {
		s := AssetSummary{ID: a.ID, Name: a.Name, Status: a.Status}
		if a.CustomID != nil {
			s.CustomID = *a.CustomID
		}
		if a.Category != nil {
			s.Category = *a.Category
		}
		if a.LocationID != nil {
			s.Location, err = e.cachedName(locations, *a.LocationID, func() (string, error) {
				l, err := e.Repo.GetLocation(ctx, nil, *a.LocationID)
				return l.Name, err
			})
			if err != nil {
				return ToolResponse[AssetSummary]{}, err
			}
		}
		items = append(items, s)
	}
	return toolResponse(items), nil
}
