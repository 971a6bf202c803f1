package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maintline/internal/apperr"
	"maintline/internal/config"
	"maintline/internal/domain"
	"maintline/internal/engine/auth"
	"maintline/internal/events"
	"maintline/internal/repo"
)

const defaultSearchLimit = 5

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{},
		Auth:   auth.Service{Repo: r},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// history shares the engine clock with the event writer.
func (e Engine) history() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) maxToolResults() int {
	if e.Config == nil || e.Config.Agent.MaxToolResults <= 0 {
		return config.DefaultMaxToolResults
	}
	return e.Config.Agent.MaxToolResults
}

func (e Engine) resolveLimit(candidate int) int {
	if candidate <= 0 {
		return defaultSearchLimit
	}
	return max(1, min(candidate, e.maxToolResults()))
}

// ensureInCompany checks that a referenced row exists and belongs to companyID.
func (e Engine) ensureInCompany(ctx context.Context, tx *sql.Tx, table, label string, id, companyID int64) error {
	owner, err := e.Repo.CompanyOf(ctx, tx, table, id)
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.NotFound("%s not found", label)
	}
	if err != nil {
		return fmt.Errorf("lookup %s %d: %w", table, id, err)
	}
	if owner != companyID {
		return apperr.Forbidden("%s belongs to another company", label)
	}
	return nil
}

func (e Engine) userNames(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]domain.User, error) {
	if len(ids) == 0 {
		return map[int64]domain.User{}, nil
	}
	return e.Repo.UsersByID(ctx, tx, ids)
}

func displayName(u domain.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
