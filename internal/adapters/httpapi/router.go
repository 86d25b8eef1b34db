package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/coursekeep/coursekeep/internal/app"
	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
)

type Server struct {
	logger    zerolog.Logger
	accounts  *app.AccountService
	tree      *app.TreeResolver
	downloads *app.DownloadService
	settings  *app.SettingsService
	registry  ports.AdapterRegistry
	bus       ports.EventBus
	// onSettingsUpdated est optionnel (ex: ajuster le pool de workers à chaud).
	onSettingsUpdated func(domain.Settings)
}

func NewServer(logger zerolog.Logger, accounts *app.AccountService, tree *app.TreeResolver, downloads *app.DownloadService, settings *app.SettingsService, registry ports.AdapterRegistry, bus ports.EventBus, onSettingsUpdated func(domain.Settings)) *Server {
	return &Server{
		logger:            logger,
		accounts:          accounts,
		tree:              tree,
		downloads:         downloads,
		settings:          settings,
		registry:          registry,
		bus:               bus,
		onSettingsUpdated: onSettingsUpdated,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("request_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("remote_ip"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.AccessHandler(accessLogFn))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)
		r.Get("/events", s.handleEvents)

		r.Get("/platforms", s.listPlatforms)

		if s.accounts != nil {
			NewAccountsHandler(s.accounts, s.tree).Routes(r)
		}
		if s.downloads != nil {
			NewDownloadsHandler(s.downloads).Routes(r)
		}
		if s.settings != nil {
			NewSettingsHandler(s.settings, s.onSettingsUpdated).Routes(r)
		}
	})

	return r
}
