package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"plangov/internal/manager"
	"plangov/internal/plan"
	"plangov/internal/reconciler"
	"plangov/internal/store"
	"plangov/pkg/logging"
)

// Server is the HTTP trigger surface: plan administration, reconciliation
// triggers and change notifications. All boundary payloads are explicit
// validated structs; internal packages only see validated types.
type Server struct {
	manager    *manager.PlanManager
	reconciler *reconciler.PlanReconciler
	router     chi.Router
}

// New builds the server and its routes.
func New(mgr *manager.PlanManager, rec *reconciler.PlanReconciler) *Server {
	s := &Server{manager: mgr, reconciler: rec}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/usage-plans", func(r chi.Router) {
		r.Get("/", s.handleListPlans)
		r.Post("/", s.handleCreatePlan)
		r.Get("/{id}", s.handleGetPlan)
		r.Put("/{id}", s.handleUpdatePlan)
		r.Post("/{id}/deprecate", s.handleDeprecatePlan)
		r.Get("/{id}/lifecycle", s.handleLifecycle)
		r.Get("/{id}/versions", s.handleVersions)
	})

	r.Post("/reconcile", s.handleReconcile)
	r.Post("/notifications", s.handleNotification)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server", "Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createPlanRequest is the boundary payload for plan creation.
type createPlanRequest struct {
	Name        string   `json:"name"`
	Tier        string   `json:"tier"`
	Description string   `json:"description"`
	RateLimit   int      `json:"rate_limit"`
	BurstLimit  int      `json:"burst_limit"`
	QuotaLimit  int      `json:"quota_limit"`
	QuotaPeriod string   `json:"quota_period"`
	Stages      []string `json:"stages"`
}

func (req *createPlanRequest) validate() error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if req.RateLimit < 0 || req.BurstLimit < 0 || req.QuotaLimit < 0 {
		return errors.New("limits must be non-negative")
	}
	if !plan.QuotaPeriod(req.QuotaPeriod).Valid() {
		return errors.New("quota_period must be one of DAY, WEEK, MONTH")
	}
	for _, ref := range req.Stages {
		if _, err := plan.ParseStageRef(ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.manager.Create(r.Context(), manager.CreateInput{
		Name:        req.Name,
		Tier:        plan.Tier(req.Tier),
		Description: req.Description,
		RateLimit:   req.RateLimit,
		BurstLimit:  req.BurstLimit,
		QuotaLimit:  req.QuotaLimit,
		QuotaPeriod: plan.QuotaPeriod(req.QuotaPeriod),
		Stages:      req.Stages,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, planView(rec))
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	recs, err := s.manager.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]map[string]interface{}, 0, len(recs))
	for i := range recs {
		views = append(views, planView(&recs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": views})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planView(rec))
}

// updatePlanRequest is the boundary payload for partial plan updates.
type updatePlanRequest struct {
	Description *string   `json:"description"`
	Tier        *string   `json:"tier"`
	RateLimit   *int      `json:"rate_limit"`
	BurstLimit  *int      `json:"burst_limit"`
	QuotaLimit  *int      `json:"quota_limit"`
	Stages      *[]string `json:"stages"`
}

func (req *updatePlanRequest) validate() error {
	for _, v := range []*int{req.RateLimit, req.BurstLimit, req.QuotaLimit} {
		if v != nil && *v < 0 {
			return errors.New("limits must be non-negative")
		}
	}
	if req.Stages != nil {
		for _, ref := range *req.Stages {
			if _, err := plan.ParseStageRef(ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req updatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := manager.UpdateInput{
		Description: req.Description,
		RateLimit:   req.RateLimit,
		BurstLimit:  req.BurstLimit,
		QuotaLimit:  req.QuotaLimit,
		Stages:      req.Stages,
	}
	if req.Tier != nil {
		tier := plan.Tier(*req.Tier)
		in.Tier = &tier
	}

	rec, err := s.manager.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planView(rec))
}

func (s *Server) handleDeprecatePlan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.manager.Deprecate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planView(rec))
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	lc, err := s.manager.LifecycleState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lc)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.manager.Versions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": versions})
}

// reconcileRequest triggers evaluation of one identity or all of them.
type reconcileRequest struct {
	Mode     string `json:"mode"`
	Identity string `json:"identity"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch req.Mode {
	case "single":
		if req.Identity == "" {
			writeError(w, http.StatusBadRequest, "identity is required for single mode")
			return
		}
		ev, err := s.reconciler.Evaluate(r.Context(), req.Identity)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, evaluationView(ev))

	case "all":
		result, err := s.reconciler.EvaluateAll(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		evaluations := make([]map[string]interface{}, 0, len(result.Evaluations))
		for _, ev := range result.Evaluations {
			evaluations = append(evaluations, evaluationView(ev))
		}
		failures := make(map[string]string, len(result.Failures))
		for identity, err := range result.Failures {
			failures[identity] = err.Error()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"evaluations": evaluations,
			"failures":    failures,
		})

	default:
		writeError(w, http.StatusBadRequest, "mode must be \"single\" or \"all\"")
	}
}

// notificationRequest is an upstream change notification.
type notificationRequest struct {
	EventName string `json:"event_name"`
	Identity  string `json:"identity"`
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}

	op := reconciler.ChangeOperation(req.EventName)
	switch op {
	case reconciler.OperationCreate, reconciler.OperationUpdate, reconciler.OperationDelete:
	default:
		writeError(w, http.StatusBadRequest, "event_name must be one of Create, Update, Delete")
		return
	}

	ev, err := s.reconciler.HandleChange(r.Context(), op, req.Identity)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, evaluationView(ev))
}

func planView(rec *plan.GovernanceRecord) map[string]interface{} {
	view := map[string]interface{}{
		"plan_id":         rec.PlanID,
		"name":            rec.Name,
		"tier":            string(rec.Tier),
		"description":     rec.Description,
		"rate_limit":      rec.RateLimit,
		"burst_limit":     rec.BurstLimit,
		"quota_limit":     rec.QuotaLimit,
		"quota_period":    string(rec.QuotaPeriod),
		"lifecycle_state": string(rec.LifecycleState),
		"stages":          rec.Stages,
		"deleted":         rec.Deleted,
		"created_at":      rec.CreatedAt,
		"updated_at":      rec.UpdatedAt,
	}
	if rec.RecreatedFrom != "" {
		view["recreated_from"] = rec.RecreatedFrom
	}
	if rec.RecreatedAs != "" {
		view["recreated_as"] = rec.RecreatedAs
	}
	return view
}

func evaluationView(ev reconciler.Evaluation) map[string]interface{} {
	view := map[string]interface{}{
		"identity":       ev.Identity,
		"classification": string(ev.Classification),
		"outcome":        string(ev.Outcome),
	}
	if len(ev.Corrected) > 0 {
		corrected := make([]string, len(ev.Corrected))
		for i, a := range ev.Corrected {
			corrected[i] = string(a)
		}
		view["corrected"] = corrected
	}
	if len(ev.Failures) > 0 {
		failures := make([]string, len(ev.Failures))
		for i, f := range ev.Failures {
			failures[i] = string(f.Attribute) + ": " + f.Err.Error()
		}
		view["failures"] = failures
	}
	if ev.NewIdentity != "" {
		view["new_identity"] = ev.NewIdentity
	}
	if ev.Annotation != "" {
		view["annotation"] = ev.Annotation
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Server", err, "Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "usage plan not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
