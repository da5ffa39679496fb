//go:generate mockgen -source ./server.go -destination=./mocks/server.go -package=mock_server
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mealmesh/fulfillment/internal/domain"
)

// Storage is the read surface the fetch API exposes; all writes go through
// the command channel.
type Storage interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListActive(ctx context.Context, role domain.ActorRole, actorID string) ([]*domain.Order, error)
	ListHistorical(ctx context.Context, role domain.ActorRole, actorID string) ([]*domain.Order, error)
}

type UserRepo interface {
	ValidateUser(ctx context.Context, username, password string) (bool, error)
}

// Server is the fetch side of the ledger interface: order snapshots by id
// and per-actor active/historical sets, used for initial cache warm-up and
// resynchronization after a channel reconnect.
type Server struct {
	storage      Storage
	userRepo     UserRepo
	log          *zap.Logger
	server       *http.Server
	AuditManager *AuditManager
}

func New(storage Storage, userRepo UserRepo, audit *AuditManager, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		storage:      storage,
		userRepo:     userRepo,
		log:          log,
		AuditManager: audit,
	}
}

func (s *Server) Run(ctx context.Context, port string) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if s.AuditManager != nil {
		s.AuditManager.Start(ctx)
	}

	s.log.Info("fetch API starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	if s.AuditManager != nil {
		s.AuditManager.Shutdown(ctx)
	}
	s.log.Info("fetch API shutdown completed")
	return nil
}

func (s *Server) setupRoutes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/").Subrouter()
	api.Use(s.auditMiddleware, s.basicAuthMiddleware)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/actors/{role}/{actorID}/orders/active", s.handleListActive).Methods(http.MethodGet)
	api.HandleFunc("/actors/{role}/{actorID}/orders/history", s.handleListHistorical).Methods(http.MethodGet)

	return r
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		valid, err := s.userRepo.ValidateUser(r.Context(), username, password)
		if err != nil || !valid {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "Missing order ID")
		return
	}

	order, err := s.storage.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			respondError(w, http.StatusNotFound, "Order not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	s.handleList(w, r, s.storage.ListActive)
}

func (s *Server) handleListHistorical(w http.ResponseWriter, r *http.Request) {
	s.handleList(w, r, s.storage.ListHistorical)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, list func(context.Context, domain.ActorRole, string) ([]*domain.Order, error)) {
	vars := mux.Vars(r)
	role := domain.ActorRole(vars["role"])
	actorID := vars["actorID"]

	switch role {
	case domain.RoleCustomer, domain.RoleRestaurant, domain.RoleAgent:
	default:
		respondError(w, http.StatusBadRequest, "Unknown actor role")
		return
	}
	if actorID == "" {
		respondError(w, http.StatusBadRequest, "Missing actor ID")
		return
	}

	orders, err := list(r.Context(), role, actorID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}

	respondJSON(w, http.StatusOK, orders)
}
