package rbac

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/apierror"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Handlers provides the management API for roles and bindings, plus the
// forward-auth check endpoint.
type Handlers struct {
	store   *Store
	engine  *Engine
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewHandlers creates the RBAC management handlers.
func NewHandlers(store *Store, engine *Engine, logger *observability.Logger, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		store:   store,
		engine:  engine,
		logger:  logger,
		metrics: metrics,
	}
}

// RegisterRoutes registers all RBAC routes on the given router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/roles", h.CreateOrUpdateRole).Methods("POST")
	router.HandleFunc("/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/roles/{id}", h.DeleteRole).Methods("DELETE")
	router.HandleFunc("/roles/{id}/bindings", h.ListBindingsForRole).Methods("GET")

	router.HandleFunc("/role-bindings", h.CreateOrUpdateBinding).Methods("POST")
	router.HandleFunc("/role-bindings/{id}", h.GetBinding).Methods("GET")
	router.HandleFunc("/role-bindings/{id}", h.DeleteBinding).Methods("DELETE")

	router.HandleFunc("/_authorize", h.CheckAccess).Methods("GET")
}

type roleEnvelope struct {
	Role *Role `json:"role"`
}

type rolesEnvelope struct {
	Roles []Role `json:"roles"`
}

type bindingEnvelope struct {
	RoleBinding *Binding `json:"roleBinding"`
}

type bindingsEnvelope struct {
	RoleBindings []Binding `json:"roleBindings"`
}

// ListRoles returns all stored roles.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.GetAllRoles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, rolesEnvelope{Roles: roles})
}

// CreateOrUpdateRole stores the role from the request body. A new role gets
// 201, an overwrite gets 200.
func (h *Handlers) CreateOrUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roleEnvelope
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == nil {
		httputil.WriteError(w, apierror.New(apierror.CodeBadRequest, "request body must contain a role"))
		return
	}

	created, err := h.store.CreateOrUpdateRole(r.Context(), req.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, roleEnvelope{Role: req.Role})
}

// GetRole fetches a single role by id.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID := mux.Vars(r)["id"]

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roleEnvelope{Role: role})
}

// DeleteRole removes a role. Bindings referencing it are not cascaded.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID := mux.Vars(r)["id"]

	if err := h.store.DeleteRole(r.Context(), roleID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Role deleted")
}

// ListBindingsForRole returns every binding that grants the role.
func (h *Handlers) ListBindingsForRole(w http.ResponseWriter, r *http.Request) {
	roleID := mux.Vars(r)["id"]

	bindings, err := h.store.GetBindingsForRole(r.Context(), roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, bindingsEnvelope{RoleBindings: bindings})
}

// CreateOrUpdateBinding stores the binding from the request body.
func (h *Handlers) CreateOrUpdateBinding(w http.ResponseWriter, r *http.Request) {
	var req bindingEnvelope
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoleBinding == nil {
		httputil.WriteError(w, apierror.New(apierror.CodeBadRequest, "request body must contain a roleBinding"))
		return
	}

	created, err := h.store.CreateOrUpdateBinding(r.Context(), req.RoleBinding)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, bindingEnvelope{RoleBinding: req.RoleBinding})
}

// GetBinding fetches a single binding by id.
func (h *Handlers) GetBinding(w http.ResponseWriter, r *http.Request) {
	bindingID := mux.Vars(r)["id"]

	binding, err := h.store.GetBinding(r.Context(), bindingID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, bindingEnvelope{RoleBinding: binding})
}

// DeleteBinding removes a binding and its index entries.
func (h *Handlers) DeleteBinding(w http.ResponseWriter, r *http.Request) {
	bindingID := mux.Vars(r)["id"]

	if err := h.store.DeleteBinding(r.Context(), bindingID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Role binding deleted")
}

// CheckAccess is the forward-auth endpoint. The resource comes from the
// X-Auth-Request-Redirect header and the action from X-Original-Method; the
// principal is the authenticated subject from the request context.
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	sub := contextkeys.Subject(r.Context())
	if sub == "" {
		httputil.WriteError(w, apierror.New(apierror.CodeUnauthenticated, "no authenticated principal"))
		return
	}

	resource := r.Header.Get("X-Auth-Request-Redirect")
	action := r.Header.Get("X-Original-Method")
	if action == "" {
		action = r.Method
	}

	decision, err := h.engine.Authorize(r.Context(), sub, resource, action)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	outcome := "denied"
	status := http.StatusForbidden
	if decision.Allowed {
		outcome = "allowed"
		status = http.StatusOK
	}
	if h.metrics != nil {
		h.metrics.AuthzDecisions.WithLabelValues(outcome).Inc()
	}

	httputil.WriteJSON(w, status, struct {
		Allowed   bool   `json:"allowed"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}{
		Allowed:   decision.Allowed,
		Message:   decision.Message,
		Timestamp: decision.Timestamp.Format(time.RFC3339),
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	correlationID := httputil.WriteError(w, err)
	logger := h.logger.FromContext(r.Context()).WithError(err)
	if correlationID != "" {
		logger = logger.WithField("correlation_id", correlationID)
	}
	if apierror.CodeOf(err) == apierror.CodeInternal {
		logger.Error("request failed")
	} else {
		logger.Debug("request rejected")
	}
}
