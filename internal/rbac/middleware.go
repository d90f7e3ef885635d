package rbac

import (
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/lexledger/lexledger/internal/platform/httpx"
	"github.com/lexledger/lexledger/internal/shared"
)

// Header names carrying the identity asserted by the upstream gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Middleware resolves the actor of a request and guards routes by
// permission. The zero value is usable; Logger only adds denial logs.
type Middleware struct {
	Logger *slog.Logger
}

// Identify stores the actor named by the identity headers in the request
// context. Requests without a parseable identity pass through anonymously.
func (m Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := m.actorFromHeaders(r)
		if ok {
			r = r.WithContext(shared.ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) actorFromHeaders(r *http.Request) (shared.Actor, bool) {
	raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if raw == "" {
		return shared.Actor{}, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		if m.Logger != nil {
			m.Logger.WarnContext(r.Context(), "ignoring malformed user id header", slog.String("value", raw))
		}
		return shared.Actor{}, false
	}
	return shared.Actor{
		UserID: id,
		Role:   strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
	}, true
}

// RequireAny lets a request through when the actor holds one of perms.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.guard(newPermSet(perms), func(granted, required permSet) []string {
		if granted.intersects(required) {
			return nil
		}
		return required.sorted()
	})
}

// RequireAll lets a request through when the actor holds every one of perms.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.guard(newPermSet(perms), func(granted, required permSet) []string {
		return granted.missing(required)
	})
}

// guard rejects the request when check reports missing permissions.
func (m Middleware) guard(required permSet, check func(granted, required permSet) []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(required) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.Wrap(shared.ErrForbidden, "missing %s header", HeaderUserID))
				return
			}
			missing := check(newPermSet(PermissionsFor(actor.Role)), required)
			if len(missing) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.InfoContext(r.Context(), "permission denied",
					slog.Int64("user_id", actor.UserID),
					slog.String("role", actor.Role),
					slog.String("path", r.URL.Path),
					slog.Any("missing", missing),
				)
			}
			httpx.RespondError(w, shared.ErrForbidden)
		})
	}
}

type permSet map[string]struct{}

func newPermSet(perms []string) permSet {
	set := make(permSet, len(perms))
	for _, p := range perms {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

func (s permSet) intersects(other permSet) bool {
	for p := range other {
		if _, ok := s[p]; ok {
			return true
		}
	}
	return false
}

func (s permSet) missing(required permSet) []string {
	var out []string
	for p := range required {
		if _, ok := s[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (s permSet) sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
