// Package agent stages runtime-proposed mutations as drafts and applies them
// once the owning user confirms.
package agent

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"maintline/internal/config"
	"maintline/internal/engine"
)

type Service struct {
	Engine  engine.Engine
	Runtime Runtime
	Config  config.AgentConfig
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
}

// New wires a Service whose runtime client follows cfg.
func New(eng engine.Engine, cfg config.AgentConfig) Service {
	return Service{
		Engine:  eng,
		Runtime: NewHTTPRuntime(cfg),
		Config:  cfg,
		Logger:  eng.Logger,
		Now:     eng.Now,
	}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s Service) correlationID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}
