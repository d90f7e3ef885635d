package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lexledger/lexledger/internal/platform/httpx"
	"github.com/lexledger/lexledger/internal/shared"
)

// PermissionsHandler exposes the role table and the caller's grants.
type PermissionsHandler struct {
	rbac Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/me/permissions", h.myPermissions)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermBillingView))
		r.Get("/roles", h.listRoles)
	})
}

type permissionsResponse struct {
	UserID      int64    `json:"userId"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (h *PermissionsHandler) myPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	perms := PermissionsFor(actor.Role)
	if perms == nil {
		perms = []string{}
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{UserID: actor.UserID, Role: actor.Role, Permissions: perms})
}

func (h *PermissionsHandler) listRoles(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, Roles())
}
