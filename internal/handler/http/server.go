package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"shortlink/internal/auth"
	"shortlink/internal/service"
)

// Server HTTP сервер с обработчиками
type Server struct {
	linksHandler    *LinksHandler
	redirectHandler *RedirectHandler
	healthHandler   *HealthHandler
	authMiddleware  *auth.Middleware
	log             *zap.Logger
}

// NewServer создает новый HTTP сервер
func NewServer(
	links *service.LinkService,
	resolver Resolver,
	clicks ClickRecorder,
	health *HealthHandler,
	authMiddleware *auth.Middleware,
	log *zap.Logger,
	baseURL string,
) *Server {
	return &Server{
		linksHandler:    NewLinksHandler(links, log, baseURL),
		redirectHandler: NewRedirectHandler(resolver, clicks, log),
		healthHandler:   health,
		authMiddleware:  authMiddleware,
		log:             log,
	}
}

// SetupRoutes настраивает маршруты
func (s *Server) SetupRoutes() http.Handler {
	router := mux.NewRouter()
	router.Use(requestLogging(s.log))

	// Health checks (без аутентификации)
	router.HandleFunc("/health", s.healthHandler.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.healthHandler.Ready).Methods(http.MethodGet)

	// API endpoints (с аутентификацией)
	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware.CORS)
	api.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	links := api.PathPrefix("/links").Subrouter()
	links.Use(s.authMiddleware.RequireAuth)
	links.HandleFunc("", s.linksHandler.CreateLink).Methods(http.MethodPost)
	links.HandleFunc("", s.linksHandler.ListLinks).Methods(http.MethodGet)
	links.HandleFunc("/{code}", s.linksHandler.GetLink).Methods(http.MethodGet)
	links.HandleFunc("/{code}", s.linksHandler.UpdateLink).Methods(http.MethodPatch)
	links.HandleFunc("/{code}", s.linksHandler.DeleteLink).Methods(http.MethodDelete)
	links.HandleFunc("/{code}/stats", s.linksHandler.GetStats).Methods(http.MethodGet)

	// Redirect endpoint (без аутентификации) - должен быть последним
	router.HandleFunc("/{code}", s.redirectHandler.HandleRedirect).Methods(http.MethodGet, http.MethodHead)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Not found", http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	return router
}
