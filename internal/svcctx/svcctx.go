// Package svcctx provides service context for dependency injection via
// context. This package is separate from the service packages to avoid
// import cycles between CLI commands and the components they wire.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/admission"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/config"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/coord"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/ingest"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/metrics"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/orchestrator"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/store"
)

// Services holds the core services that flow through context. Components
// extract what they need via the individual extractors.
type Services struct {
	Config       *config.Manager
	Store        *store.Store
	Coord        *coord.Store
	Admission    *admission.Controller
	Orchestrator *orchestrator.Orchestrator
	Ingester     *ingest.Ingester
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context. Returns nil
// if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// StoreFrom extracts the persistence store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// CoordFrom extracts the coordination store from context.
func CoordFrom(ctx context.Context) *coord.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Coord
	}
	return nil
}

// AdmissionFrom extracts the admission controller from context.
func AdmissionFrom(ctx context.Context) *admission.Controller {
	if s := ServicesFrom(ctx); s != nil {
		return s.Admission
	}
	return nil
}

// OrchestratorFrom extracts the orchestrator from context.
func OrchestratorFrom(ctx context.Context) *orchestrator.Orchestrator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Orchestrator
	}
	return nil
}

// IngesterFrom extracts the book ingester from context.
func IngesterFrom(ctx context.Context) *ingest.Ingester {
	if s := ServicesFrom(ctx); s != nil {
		return s.Ingester
	}
	return nil
}

// MetricsFrom extracts the metrics registry from context.
func MetricsFrom(ctx context.Context) *metrics.Metrics {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// LoggerFrom extracts the logger from context, falling back to the default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
