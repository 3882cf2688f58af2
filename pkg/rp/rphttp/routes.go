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
	"github.com/go-chi/chi/v5"
)

// Mount mounts the passkey routes on a chi router.
//
// Example:
//
//	h := rphttp.NewHandler(party)
//	r.Route("/api/v1/passkey", func(r chi.Router) {
//	    rphttp.Mount(r, h)
//	})
func Mount(r chi.Router, h *Handler) {
	r.Post("/registration/begin", h.BeginRegistration)
	r.Post("/registration/finish", h.FinishRegistration)
	r.Post("/login/begin", h.BeginLogin)
	r.Post("/login/finish", h.FinishLogin)
	r.Post("/logout", h.Logout)
	r.Group(func(r chi.Router) {
		r.Use(h.RequireSession)
		r.Get("/me", h.Me)
	})
}
