// Package rounds wires the campaign rounds bounded context: repository,
// operator service and HTTP handler.
package rounds

import (
	"campaign_backend/internal/cache"
	"campaign_backend/internal/events"
	apphttp "campaign_backend/internal/http"
	"campaign_backend/internal/rounds/handler"
	"campaign_backend/internal/rounds/repository"
	"campaign_backend/internal/rounds/service"
	"campaign_backend/internal/scheduler/jobs"
	"campaign_backend/platform/logger"
	"campaign_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module bundles the rounds components.
type Module struct {
	handler *handler.Handler

	// Service is exported for other modules and the worker wiring.
	Service *Service
	// Repository is exported for the scheduler's reconciler.
	Repository *repository.Repository
}

// Service is the rounds service type, re-exported for wiring.
type Service = service.Service

// Deps are the cross-module dependencies the rounds service needs.
type Deps struct {
	Registrar service.Registrar
	Trigger   service.StageTrigger
	MaintLogs service.MaintenanceLogSource
	Cache     *cache.RoundCache
	Bus       events.Bus
}

// NewModule creates the rounds module with its dependencies.
func NewModule(pool *pgxpool.Pool, jobRepo *jobs.Repository, deps Deps, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, jobRepo, deps.Registrar, deps.Trigger, deps.MaintLogs, deps.Cache, deps.Bus, log)
	h := handler.New(svc, val, log)

	return &Module{
		handler:    h,
		Service:    svc,
		Repository: repo,
	}
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "rounds"
}

// RegisterRoutes mounts the module's routes under /api/v1.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.V1)
}

// Ensure Module implements the http.Module interface.
var _ apphttp.Module = (*Module)(nil)
