package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/logging"
)

// importContext returns the context a background import starts from. Its
// logger keeps the requesting client's address, user agent and request id
// after the request itself is gone.
func importContext(r *http.Request) context.Context {
	ctx, _ := logging.WithFields(r.Context(),
		zap.String("remote_addr", r.RemoteAddr), // already processed by TrustedRealIP
		zap.String("user_agent", r.UserAgent()))
	// The logger now carries request_id; clear it so it is not added twice.
	return context.WithValue(ctx, middleware.RequestIDKey, "")
}
