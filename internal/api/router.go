package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(apiHandler *APIHandler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Get("/credentials", apiHandler.GetCredentialsHandler)
		r.Put("/credentials", apiHandler.PutCredentialsHandler)

		r.Get("/view", apiHandler.GetViewHandler)
		r.Patch("/view", apiHandler.PatchViewHandler)
		r.Post("/view/reset", apiHandler.ResetViewHandler)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", apiHandler.CreateSessionHandler)
			r.Get("/", apiHandler.ListSessionsHandler)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", apiHandler.GetSessionHandler)
				r.Delete("/", apiHandler.DeleteSessionHandler)
				r.Put("/select", apiHandler.SelectSessionHandler)
				r.Post("/analysis", apiHandler.AnalyzeHandler)

				r.Get("/messages", apiHandler.ListMessagesHandler)
				r.Post("/messages", apiHandler.PostMessageHandler)

				r.Post("/annotations", apiHandler.CreateAnnotationHandler)
				r.Post("/annotations/{annotationID}/messages", apiHandler.PostAnnotationMessageHandler)
				r.Patch("/annotations/{annotationID}/position", apiHandler.MoveAnnotationHandler)
				r.Delete("/annotations/{annotationID}", apiHandler.DeleteAnnotationHandler)

				r.Get("/image-chat", apiHandler.GetImageChatHandler)
				r.Post("/image-chat", apiHandler.PostImageChatHandler)
			})
		})

		// Shared sessions are reached by public id and password only.
		r.Post("/share", apiHandler.CreateShareHandler)
		r.Post("/share/open", apiHandler.OpenShareHandler)
		r.Post("/share/chat", apiHandler.SharedChatHandler)
	})

	return r
}
