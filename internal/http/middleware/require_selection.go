package middleware

import (
	"context"
	"net/http"

	"github.com/wolfman30/patient-sheets/internal/http/respond"
)

// SelectionChecker reports whether a patient container is selected.
type SelectionChecker interface {
	IsSelected(ctx context.Context) bool
}

// RequireSelection rejects requests with 409 Conflict until a container is
// selected.
func RequireSelection(checker SelectionChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checker.IsSelected(r.Context()) {
				respond.Message(w, http.StatusConflict, "no_container_selected", "select a patient spreadsheet first")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
