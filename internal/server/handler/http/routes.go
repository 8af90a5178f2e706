package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/GVMBot/internal/middleware"
)

// NewRouter constructs the HTTP handler of the bot API.
//
// Routes:
//
//	GET  /api/health                   → Health
//	POST /api/commands                 → commandHandler.Run
//	POST /api/menus/{menuID}/{trigger} → commandHandler.Press
//
// Every route except health requires the X-Caller-ID header. Command and
// press responses are streamed when the request accepts StreamMediaType.
func NewRouter(commandHandler *CommandHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.CallerIdentity)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", Health)

		r.Group(func(r chi.Router) {
			// Only allow requests with Content-Type: application/json
			r.Use(chiMiddleware.AllowContentType("application/json"))
			r.Post("/commands", commandHandler.Run)
			r.Post("/menus/{menuID}/{trigger}", commandHandler.Press)
		})
	})

	return r
}
