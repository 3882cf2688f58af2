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

// Package rphttp exposes the passkey ceremonies over HTTP.
//
// The handlers are transport adapters: they decode request bodies, invoke
// the ceremony layer and translate its errors into status codes. All
// authentication failures that could distinguish a known account from an
// unknown one are collapsed into a single generic 401 response; the real
// cause is logged server-side only.
//
// Sessions travel as an HttpOnly cookie signed by the session manager.
// Protected routes go through RequireSession, which resolves the cookie
// back to a user or redirects to the login page.
//
// Example:
//
//	party, _ := rp.New(rp.Params{Config: cfg, SessionSecret: secret})
//	h := rphttp.NewHandler(party)
//	r := chi.NewRouter()
//	rphttp.Mount(r, h)
package rphttp
