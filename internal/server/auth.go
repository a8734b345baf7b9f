package server

import (
	"context"
	"net/http"
	"strconv"
)

// UserIDHeader carries the learner identity set by the upstream auth layer.
const UserIDHeader = "X-User-ID"

type ctxKey int

const userIDKey ctxKey = iota

// requireUser rejects requests without a positive numeric user ID.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(UserIDHeader), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

func userID(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}
