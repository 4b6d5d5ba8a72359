package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/enrollflow/enrollflow/internal/config"
	"github.com/enrollflow/enrollflow/internal/engine"
	"github.com/enrollflow/enrollflow/internal/ledger"
	"github.com/enrollflow/enrollflow/internal/observability"
	"github.com/enrollflow/enrollflow/internal/registry"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Registry     *registry.Registry
	Engine       *engine.Engine
	Ledger       ledger.Store
	Idempotency  IdempotencyStore
	Readiness    observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(observability.TracingMiddleware)
	r.Use(SecurityHeaders)

	// Public routes, bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Metrics != nil && deps.Config.Observability.Metrics.Enabled {
		r.Method("GET", deps.Config.Observability.Metrics.Path,
			promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	// Authenticated routes, full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	idemTTL := deps.Config.Idempotency.Store.DefaultTTL
	var idem IdempotencyStore
	if deps.Config.Idempotency.Enabled {
		idem = deps.Idempotency
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		r.Use(MetricsRecording(deps.Metrics))

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", handleWorkflowList(deps.Registry))
			r.Post("/", handleWorkflowCreate(deps.Registry))

			r.Route("/{workflowId}", func(r chi.Router) {
				r.Get("/", handleWorkflowGet(deps.Registry))
				r.Put("/", handleWorkflowUpdate(deps.Registry))
				r.Delete("/", handleWorkflowDelete(deps.Registry))
				r.Post("/activate", handleWorkflowActivate(deps.Registry))
				r.Post("/deactivate", handleWorkflowDeactivate(deps.Registry))
				r.Post("/validate", handleWorkflowValidate(deps.Registry))
				r.Post("/duplicate", handleWorkflowDuplicate(deps.Registry))

				r.Get("/stages", handleStageList(deps.Registry))
				r.Post("/stages", handleStageCreate(deps.Registry))
				r.Post("/stages/reorder", handleStageReorder(deps.Registry))

				r.Get("/transitions", handleTransitionList(deps.Registry))
				r.Post("/transitions", handleTransitionCreate(deps.Registry))
			})
		})

		r.Route("/stages/{stageId}", func(r chi.Router) {
			r.Put("/", handleStageUpdate(deps.Registry))
			r.Delete("/", handleStageDelete(deps.Registry))
		})

		r.Route("/transitions/{transitionId}", func(r chi.Router) {
			r.Put("/", handleTransitionUpdate(deps.Registry))
			r.Delete("/", handleTransitionDelete(deps.Registry))
		})

		r.Route("/applications", func(r chi.Router) {
			r.Get("/", handleApplicationList(deps.Ledger))
			r.Post("/", handleApplicationCreate(deps.Ledger))

			r.Route("/{applicationId}", func(r chi.Router) {
				r.Get("/", handleApplicationGet(deps.Ledger))
				r.Delete("/", handleApplicationDelete(deps.Ledger))
				r.Post("/initialize", handleApplicationInitialize(deps.Engine))

				r.Get("/transitions", handleAvailableTransitions(deps.Engine))
				r.Post("/transitions/{transitionId}", handleTransitionExecute(deps.Engine, idem, idemTTL))
				r.Get("/next-stages", handleNextStages(deps.Engine))
				r.Get("/stage", handleCurrentStage(deps.Engine))
				r.Get("/history", handleStatusHistory(deps.Engine))

				r.Post("/documents", handleDocumentUpload(deps.Engine))
				r.Post("/documents/{documentType}/verify", handleDocumentVerify(deps.Engine))
			})
		})
	})

	return r
}
