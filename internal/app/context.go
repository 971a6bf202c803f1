package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"maintline/internal/agent"
	"maintline/internal/config"
	"maintline/internal/db"
	"maintline/internal/domain"
	"maintline/internal/engine"
	"maintline/internal/migrate"
	"maintline/internal/repo"
)

// App bundles the collaborators a CLI command or server needs.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Agent     agent.Service
	Logger    *slog.Logger
}

// Open loads workspace config, opens and migrates the database and wires
// the engine and agent service.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(workspace); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	eng.Logger = logger
	svc := agent.New(eng, cfg.Agent)
	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    eng,
		Agent:     svc,
		Logger:    logger,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// ResolveActor finds a user by numeric id or email.
func (a *App) ResolveActor(ctx context.Context, ref string) (domain.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.User{}, errors.New("user not specified; use --user or run ml seed")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		u, err := a.Engine.Repo.GetUser(ctx, nil, id)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, err
		}
	}
	u, err := a.Engine.Repo.GetUserByEmail(ctx, nil, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, fmt.Errorf("user %s not found", ref)
	}
	return u, err
}

const apiKeyPrefix = "ml_"

type SeedOptions struct {
	Company    string
	AdminEmail string
	AdminName  string
}

type SeedResult struct {
	CompanyID int64       `json:"company_id"`
	Admin     domain.User `json:"admin"`
	APIKey    string      `json:"api_key"`
}

var seedRoles = []struct {
	code domain.RoleCode
	name string
}{
	{domain.RoleAdmin, "Administrator"},
	{domain.RoleLimitedAdmin, "Limited administrator"},
	{domain.RoleTechnician, "Technician"},
	{domain.RoleLimitedTechnician, "Limited technician"},
}

// Seed creates a company, its tool roles, an admin user and an API key for
// local use. The plaintext key is only returned here.
func (a *App) Seed(ctx context.Context, opts SeedOptions) (SeedResult, error) {
	if opts.Company == "" {
		opts.Company = "Demo Plant"
	}
	if opts.AdminEmail == "" {
		opts.AdminEmail = "admin@maintline.local"
	}
	if opts.AdminName == "" {
		opts.AdminName = "Local Admin"
	}
	r := a.Engine.Repo
	if _, err := r.GetUserByEmail(ctx, nil, opts.AdminEmail); err == nil {
		return SeedResult{}, fmt.Errorf("user %s already exists", opts.AdminEmail)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return SeedResult{}, err
	}
	now := time.Now().UTC()
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return SeedResult{}, err
	}
	defer tx.Rollback()

	companyID, err := r.InsertCompany(ctx, tx, opts.Company, now)
	if err != nil {
		return SeedResult{}, fmt.Errorf("insert company: %w", err)
	}
	var adminRole domain.Role
	for _, sr := range seedRoles {
		role, err := r.EnsureRole(ctx, tx, companyID, sr.code, sr.name)
		if err != nil {
			return SeedResult{}, err
		}
		if sr.code == domain.RoleAdmin {
			adminRole = role
		}
	}
	admin := domain.User{CompanyID: companyID, Email: opts.AdminEmail, FullName: opts.AdminName, Enabled: true, Role: &adminRole}
	if admin.ID, err = r.InsertUser(ctx, tx, admin, now); err != nil {
		return SeedResult{}, err
	}
	key, _, err := a.issueAPIKey(ctx, tx, admin.ID, "seed", now)
	if err != nil {
		return SeedResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SeedResult{}, err
	}
	a.Logger.Info("seeded workspace", "company_id", companyID, "admin", admin.Email)
	return SeedResult{CompanyID: companyID, Admin: admin, APIKey: key}, nil
}

// IssueAPIKey creates a named key for userID and returns its plaintext once.
func (a *App) IssueAPIKey(ctx context.Context, userID int64, name string) (string, domain.APIKey, error) {
	return a.issueAPIKey(ctx, nil, userID, name, time.Now().UTC())
}

func (a *App) issueAPIKey(ctx context.Context, tx *sql.Tx, userID int64, name string, now time.Time) (string, domain.APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: now,
	}
	if err := a.Engine.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return plain, key, nil
}

// RevokeAPIKey revokes one of userID's keys.
func (a *App) RevokeAPIKey(ctx context.Context, userID int64, id string) error {
	err := a.Engine.Repo.RevokeAPIKey(ctx, userID, id, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("api key %s not found", id)
	}
	return err
}
