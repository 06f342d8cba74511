package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"cospace/internal/api"
	"cospace/internal/metrics"
)

func New(h *api.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
	}))
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/api/v1/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/rooms", func(r chi.Router) {
		r.Post("/", h.CreateRoom)
		r.Post("/join", h.JoinRoom)
		r.Get("/key/{roomKey}", h.GetRoomByKey)
		r.Delete("/{roomID}", h.DeleteRoom)

		r.Route("/{roomID}/documents", func(r chi.Router) {
			r.Get("/", h.ListDocuments)
			r.Post("/", h.CreateDocument)
			r.Get("/{documentID}", h.GetDocument)
			r.Put("/{documentID}", h.UpdateDocument)
			r.Delete("/{documentID}", h.DeleteDocument)
			r.Get("/{documentID}/content", h.GetDocumentContent)
		})
	})

	r.Get("/api/user/rooms", h.ListUserRooms)

	r.Get("/ws/room/{roomID}", h.RoomWS)

	return r
}
