package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/roomchat/internal/auth"
	"github.com/npezzotti/roomchat/internal/chat"
	"github.com/npezzotti/roomchat/internal/config"
	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/server"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/storage"
	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 10 * time.Second
	authRateWindow    = time.Minute
)

type GoChatApp struct {
	log            *zap.Logger
	db             database.ChatRepository
	svc            *chat.Service
	cs             *server.ChatServer
	codec          auth.TokenCodec
	hasher         auth.PasswordHasher
	photos         storage.PhotoStore
	stats          stats.StatsProvider
	srv            *http.Server
	allowedOrigins []string
	verboseErrors  bool
}

// Deps are the collaborators the HTTP layer is wired to.
type Deps struct {
	Logger     *zap.Logger
	DB         database.ChatRepository
	ChatServer *server.ChatServer
	Codec      auth.TokenCodec
	Hasher     auth.PasswordHasher
	Photos     storage.PhotoStore
	Stats      stats.StatsProvider
}

func NewGoChatApp(deps Deps, cfg *config.Config) (*GoChatApp, error) {
	if deps.DB == nil || deps.ChatServer == nil || deps.Codec == nil || deps.Hasher == nil {
		return nil, fmt.Errorf("database, chat server, token codec and password hasher are required")
	}

	s := &GoChatApp{
		log:            deps.Logger,
		db:             deps.DB,
		svc:            chat.NewService(deps.DB),
		cs:             deps.ChatServer,
		codec:          deps.Codec,
		hasher:         deps.Hasher,
		photos:         deps.Photos,
		stats:          deps.Stats,
		allowedOrigins: cfg.AllowedOrigins,
		verboseErrors:  cfg.Development(),
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(s.routes(cfg))

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           s.errorHandler(h),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s, nil
}

func (s *GoChatApp) routes(cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthCheck)
	if m, ok := s.stats.(interface{ Handler() http.Handler }); ok {
		r.Handle("/metrics", m.Handler())
	}
	if cfg.Upload.Backend == config.UploadDisk {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.Upload.Dir))))
	}

	// the handshake reads its token from the query string as well
	r.Get("/ws", s.serveWs)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimit(cfg.AuthRateLimit, authRateWindow))
				r.Post("/signup", s.signup)
				r.Post("/login", s.login)
			})
			r.Get("/me", s.me)
			r.With(s.authMiddleware).Post("/logout", s.logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/users", func(r chi.Router) {
				r.Get("/search", s.searchUsers)
				r.Patch("/photo", s.uploadPhoto)
				r.Get("/me", s.me)
				r.Patch("/me", s.updateUser)
				r.Delete("/me", s.deactivateUser)
				r.Patch("/me/password", s.updatePassword)
				r.Patch("/me/profile", s.updateProfile)
				r.Get("/me/{field}", s.getUserField)
				r.Get("/{id}", s.getUserById)
			})

			r.Route("/rooms", func(r chi.Router) {
				r.Get("/", s.listRooms)
				r.Post("/", s.createRoom)
				r.Get("/me", s.listUserRooms)
				r.Get("/{id}", s.getRoomDetails)
				r.Post("/{id}/join", s.joinRoom)
				r.Post("/{id}/leave", s.leaveRoom)
				r.Delete("/{id}", s.deleteRoom)
				r.Post("/{id}/messages", s.sendMessage)
				r.Get("/{id}/messages", s.getMessages)
				r.Delete("/{id}/messages/{messageId}", s.deleteRoomMessage)
			})

			r.Route("/messages", func(r chi.Router) {
				r.Patch("/{messageId}", s.editMessage)
				r.Delete("/{messageId}", s.deleteMessage)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, NewNotFoundError(fmt.Sprintf("Can't find %s on this server", r.URL.Path)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, NewApiError(http.StatusMethodNotAllowed, "Method not allowed"))
	})

	return r
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Info("starting server", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("json encode", zap.Error(err))
	}
}

func (s *GoChatApp) readJson(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errMalformedBody
	}
	return nil
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error("health check failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// response is the success envelope shared by every handler.
type response struct {
	Status  string `json:"status"`
	Token   string `json:"token,omitempty"`
	User    any    `json:"user,omitempty"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func dataResponse(data any) response {
	return response{Status: statusSuccess, Data: data}
}

func messageResponse(msg string) response {
	return response{Status: statusSuccess, Message: msg}
}
