package auth

import (
	"net/http"
	"strings"

	"chatstore/pkg/logger"
)

func validateUser(u string) (bool, string) {
	if u == "" {
		return false, "user required"
	}
	if len(u) > 128 {
		return false, "user too long"
	}
	return true, ""
}

// ResolveUserFromRequest is the single canonical resolver handlers should
// call. It prefers a signature-verified user (in context). If a signature
// is present it is authoritative: any conflicting user provided via
// header, body or query causes a 403. When no signature is present,
// backend/admin roles may supply a user via body, header (X-User-ID) or
// query (fallback); other callers receive 401.
func ResolveUserFromRequest(r *http.Request, bodyUser string) (string, int, string) {
	if id := UserIDFromContext(r.Context()); id != "" {
		if q := strings.TrimSpace(r.URL.Query().Get("user")); q != "" && q != id {
			logger.Warn("user_mismatch_signature_query", "signature", id, "query", q, "path", r.URL.Path)
			return "", http.StatusForbidden, "user mismatch between signature and query param"
		}
		if h := strings.TrimSpace(r.Header.Get("X-User-ID")); h != "" && h != id {
			logger.Warn("user_mismatch_signature_header", "signature", id, "header", h, "path", r.URL.Path)
			return "", http.StatusForbidden, "user mismatch between signature and header"
		}
		if bodyUser != "" && bodyUser != id {
			logger.Warn("user_mismatch_signature_body", "signature", id, "body", bodyUser, "path", r.URL.Path)
			return "", http.StatusForbidden, "user mismatch between signature and body user"
		}
		return id, 0, ""
	}

	role := r.Header.Get("X-Role-Name")
	if role == "backend" || role == "admin" {
		for _, cand := range []string{bodyUser, strings.TrimSpace(r.Header.Get("X-User-ID")), strings.TrimSpace(r.URL.Query().Get("user"))} {
			if cand == "" {
				continue
			}
			if ok, msg := validateUser(cand); !ok {
				return "", http.StatusBadRequest, msg
			}
			return cand, 0, ""
		}
		logger.Warn("backend_missing_user", "path", r.URL.Path)
		return "", http.StatusBadRequest, "user required for backend requests"
	}

	logger.Warn("missing_user_signature", "role", role, "path", r.URL.Path)
	return "", http.StatusUnauthorized, "missing or invalid user signature"
}
