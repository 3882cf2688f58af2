// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rphttp

import (
	"context"
	"net/http"

	"github.com/jeremyhahn/go-passkey/pkg/rp"
)

type contextKey string

const userContextKey contextKey = "passkey.user"

// UserFromContext returns the authenticated user injected by
// RequireSession.
func UserFromContext(ctx context.Context) (*rp.User, bool) {
	user, ok := ctx.Value(userContextKey).(*rp.User)
	return user, ok
}

// RequireSession guards a route behind a valid session cookie. The cookie
// token is parsed and its subject resolved to a live user; anything less
// is treated as unauthenticated. A stale cookie whose user no longer
// exists fails the same way as no cookie at all.
//
// Unauthenticated requests are redirected to the configured login page,
// or answered with 401 JSON when none is set.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			h.rejectUnauthenticated(w, r)
			return
		}

		session, err := h.party.Sessions.Parse(cookie.Value)
		if err != nil {
			h.logger.Debug("rejecting invalid session token", "error", err)
			h.rejectUnauthenticated(w, r)
			return
		}

		user, ok := h.party.Sessions.AttachSubject(r.Context(), session)
		if !ok {
			h.rejectUnauthenticated(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

func (h *Handler) rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if h.loginPath != "" {
		http.Redirect(w, r, h.loginPath, http.StatusSeeOther)
		return
	}
	h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
}
