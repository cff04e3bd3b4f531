package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// ReviewerHeader carries the identity of the person making a decision
const ReviewerHeader = "X-Reviewer-ID"

type contextKey string

const reviewerKey contextKey = "reviewer"

// RequireReviewer rejects requests without a reviewer identity and stores it
// in the request context. Authentication itself happens upstream.
func RequireReviewer(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reviewer := strings.TrimSpace(r.Header.Get(ReviewerHeader))
			if reviewer == "" {
				if enabled {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					json.NewEncoder(w).Encode(map[string]string{"error": "missing " + ReviewerHeader + " header"})
					return
				}
				reviewer = "anonymous"
			}

			ctx := context.WithValue(r.Context(), reviewerKey, reviewer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ReviewerID returns the reviewer stored by RequireReviewer, or ""
func ReviewerID(ctx context.Context) string {
	reviewer, _ := ctx.Value(reviewerKey).(string)
	return reviewer
}

// WithReviewer returns a context carrying the reviewer, for callers outside the HTTP stack
func WithReviewer(ctx context.Context, reviewer string) context.Context {
	return context.WithValue(ctx, reviewerKey, reviewer)
}
