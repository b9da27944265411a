package server

import (
	"net/http"
	"strings"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/authctx"
)

// HeaderResolver builds an authctx.Context from request headers set by an
// upstream gateway that has already validated the caller's credentials.
// Per the identity contract (authctx.Context is an opaque input, not
// something this service derives from a token itself), this is the
// production AuthResolver: it trusts X-User-Id/X-Organization-Id/X-Roles
// the same way a service mesh sidecar or API gateway would inject them
// after its own JWT validation.
type HeaderResolver struct {
	UserIDHeader string
	OrgIDHeader  string
	RolesHeader  string
}

// NewHeaderResolver builds a HeaderResolver using the conventional header
// names, overridable for deployments with a different gateway convention.
func NewHeaderResolver() HeaderResolver {
	return HeaderResolver{
		UserIDHeader: "X-User-Id",
		OrgIDHeader:  "X-Organization-Id",
		RolesHeader:  "X-Roles",
	}
}

func (h HeaderResolver) Resolve(r *http.Request) (authctx.Context, error) {
	userID := r.Header.Get(h.UserIDHeader)
	orgID := r.Header.Get(h.OrgIDHeader)
	if userID == "" || orgID == "" {
		return authctx.Context{}, apperrors.NewAuthError("missing caller identity headers")
	}

	var roles []string
	if raw := r.Header.Get(h.RolesHeader); raw != "" {
		for _, role := range strings.Split(raw, ",") {
			role = strings.TrimSpace(role)
			if role != "" {
				roles = append(roles, role)
			}
		}
	}

	actor := authctx.Context{UserID: userID, OrganizationID: orgID, Roles: roles}
	if key := r.Header.Get("X-Idempotency-Key"); key != "" {
		actor.Metadata = map[string]string{"idempotency_key": key}
	}
	return actor, nil
}

var _ AuthResolver = HeaderResolver{}
