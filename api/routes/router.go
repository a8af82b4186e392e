package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelrally/reelrally-backend/api/controllers"
	webhookcontrollers "github.com/reelrally/reelrally-backend/api/controllers/webhooks"
	"github.com/reelrally/reelrally-backend/api/middleware"
	"github.com/reelrally/reelrally-backend/internal/scrapejobs"
	"github.com/reelrally/reelrally-backend/internal/submissions"
	"github.com/reelrally/reelrally-backend/internal/verification"
	"github.com/reelrally/reelrally-backend/pkg/config"
	dbpkg "github.com/reelrally/reelrally-backend/pkg/db"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/queue"
	"github.com/reelrally/reelrally-backend/pkg/redis"
)

// Deps carries everything the router wires into handlers. Gatherer may be
// nil when metrics are not exported.
type Deps struct {
	DB          *dbpkg.Client
	Redis       *redis.Client
	Submissions submissions.Service
	Registrar   *verification.Registrar
	Resolver    *scrapejobs.Resolver
	Jobs        *scrapejobs.Repository
	Events      *queue.Service
	Gatherer    prometheus.Gatherer
	Readiness   map[string]controllers.Pinger
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Get("/readyz", controllers.HealthReady(cfg, logg, deps.Readiness))

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1/webhooks", func(r chi.Router) {
		r.Post("/scraper", webhookcontrollers.ScraperWebhook(
			cfg.Webhook, deps.DB, deps.Resolver, deps.Jobs, deps.Events, deps.Redis, logg,
		))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Identity(logg))

		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", controllers.CreateSubmissions(deps.Submissions, cfg.Assets.MaxUploadMB, logg))
			r.Get("/", controllers.ListSubmissions(deps.Submissions, logg))
			r.Get("/{submissionId}", controllers.GetSubmission(deps.Submissions, logg))
		})

		r.Route("/social-accounts", func(r chi.Router) {
			r.Post("/", controllers.RegisterSocialAccount(deps.Registrar, logg))
			r.Post("/{accountId}/verify", controllers.VerifySocialAccount(deps.Registrar, logg))
		})
	})

	return r
}
