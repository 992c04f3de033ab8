package middleware

import (
	"context"
	"net/http"
	"strings"
)

// ActorHeader names the caller recorded on every write.
const ActorHeader = "X-Actor-ID"

// DefaultActor is used when the header is missing.
const DefaultActor = "system"

type contextKey string

const actorContextKey contextKey = "actor"

// Actor stores the X-Actor-ID header in the request context.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			actor = DefaultActor
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFrom returns the request actor, or DefaultActor outside Actor.
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey).(string); ok && actor != "" {
		return actor
	}
	return DefaultActor
}
