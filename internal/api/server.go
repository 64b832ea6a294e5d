package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/soochol/stagecond/internal/registry"
	"github.com/soochol/stagecond/internal/services"
)

type Server struct {
	registry     *registry.Service
	runner       *services.ActionRunner
	conditions   *services.ConditionService
	orchestrator *services.Orchestrator
	retention    *services.RetentionService
	audit        *services.AuditQueue
	logger       *slog.Logger
}

func NewServer(reg *registry.Service, runner *services.ActionRunner, conditions *services.ConditionService, orchestrator *services.Orchestrator) *Server {
	return &Server{
		registry:     reg,
		runner:       runner,
		conditions:   conditions,
		orchestrator: orchestrator,
		logger:       slog.Default(),
	}
}

// SetRetentionService enables the evaluation log listing endpoint.
func (s *Server) SetRetentionService(svc *services.RetentionService) {
	s.retention = svc
}

// SetAuditQueue enables the audit queue stats endpoint.
func (s *Server) SetAuditQueue(q *services.AuditQueue) {
	s.audit = q
}

func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", headerTenantID, headerUserID, headerUserName},
		AllowCredentials: true,
	}))
	r.Route("/api", func(r chi.Router) {
		r.Route("/action-definitions", func(r chi.Router) {
			r.Post("/", s.createDefinition)
			r.Get("/", s.listDefinitions)
			r.Get("/{id}", s.getDefinition)
			r.Put("/{id}", s.updateDefinition)
			r.Delete("/{id}", s.deleteDefinition)
			r.Post("/{id}/execute", s.executeDefinition)
			r.Get("/{id}/executions", s.listExecutions)
		})
		r.Get("/executions/{id}", s.getExecution)
		r.Route("/trigger-mappings", func(r chi.Router) {
			r.Post("/", s.createMapping)
			r.Get("/", s.listMappings)
			r.Get("/{id}", s.getMapping)
			r.Put("/{id}", s.updateMapping)
			r.Delete("/{id}", s.deleteMapping)
		})
		r.Post("/triggers/{type}/{sourceId}/fire", s.fireTrigger)
		r.Route("/conditions", func(r chi.Router) {
			r.Post("/", s.createCondition)
			r.Get("/", s.listConditions)
			r.Post("/validate", s.validateCondition)
			r.Get("/{id}", s.getCondition)
			r.Put("/{id}", s.updateCondition)
			r.Delete("/{id}", s.deleteCondition)
		})
		r.Route("/instances/{instanceId}", func(r chi.Router) {
			r.Post("/stages/{stageId}/evaluate", s.evaluateStage)
			r.Get("/evaluations", s.listEvaluations)
		})
		r.Get("/audit/stats", s.auditStats)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}
