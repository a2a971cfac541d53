package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/ndbmedicine/internal/logging"
	mw "github.com/JonMunkholm/ndbmedicine/internal/web/middleware"
)

// WithRequestMetadata returns ctx with a logger that carries the client IP
// and User-Agent, so that background runs started by the request log them.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	logger := logging.FromContext(ctx).With(
		"ip", mw.ClientIP(r),
		"user_agent", r.UserAgent(),
	)
	return logging.IntoContext(ctx, logger)
}
