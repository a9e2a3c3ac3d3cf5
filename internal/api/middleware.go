package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/npezzotti/roomchat/internal/auth"
	"github.com/npezzotti/roomchat/internal/database"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const requestIdHeader = "X-Request-ID"

type contextKey string

const (
	userKey      contextKey = "user"
	requestIdKey contextKey = "request-id"
)

var (
	errNoToken      = NewUnauthorizedError("Not authorized, no token")
	errTokenExpired = NewUnauthorizedError("Token expired")
	errInvalidToken = NewUnauthorizedError("Invalid token")
	errUserGone     = NewUnauthorizedError("User no longer exists")
)

func WithUser(ctx context.Context, u database.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFrom returns the identity attached by the auth middleware.
func UserFrom(ctx context.Context) (database.User, bool) {
	u, ok := ctx.Value(userKey).(database.User)
	return u, ok
}

func RequestId(ctx context.Context) string {
	id, _ := ctx.Value(requestIdKey).(string)
	return id
}

func (s *GoChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error("panic", zap.Error(panicError), zap.String("request_id", RequestId(r.Context())))
				w.Header().Set("Connection", "close")
				s.writeError(w, r, panicError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *GoChatApp) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqId := r.Header.Get(requestIdHeader)
		if reqId == "" {
			reqId = ulid.Make().String()
		}
		w.Header().Set(requestIdHeader, reqId)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestIdKey, reqId)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.stats != nil {
			s.stats.ObserveRequest(r.Method, route, status, elapsed)
		}

		s.log.Info("request",
			zap.String("request_id", reqId),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
		)
	})
}

// bearerToken extracts the credential from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *GoChatApp) verifyToken(token string) (int, error) {
	userId, err := s.codec.Verify(token)
	switch {
	case err == nil:
		return userId, nil
	case errors.Is(err, auth.ErrExpiredCredential):
		return 0, errTokenExpired
	default:
		return 0, errInvalidToken
	}
}

// authenticate resolves the token to an active user.
func (s *GoChatApp) authenticate(ctx context.Context, token string) (database.User, error) {
	if token == "" {
		return database.User{}, errNoToken
	}

	userId, err := s.verifyToken(token)
	if err != nil {
		return database.User{}, err
	}

	user, err := s.db.GetUserById(ctx, userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.User{}, errUserGone
		}
		return database.User{}, err
	}
	if !user.Active {
		return database.User{}, errUserGone
	}

	return user, nil
}

func (s *GoChatApp) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r.Context(), bearerToken(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// ipLimiter keeps one token bucket per client IP. Buckets idle for longer
// than idle are dropped; by then they have refilled completely.
type ipLimiter struct {
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	limiters sync.Map // ip -> *ipEntry

	mu        sync.Mutex
	lastSweep time.Time
}

func newIpLimiter(n int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		limit:     rate.Every(window / time.Duration(n)),
		burst:     n,
		idle:      window,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	now := l.now()

	v, ok := l.limiters.Load(ip)
	if !ok {
		v, _ = l.limiters.LoadOrStore(ip, &ipEntry{limiter: rate.NewLimiter(l.limit, l.burst)})
	}
	e := v.(*ipEntry)
	e.lastSeen.Store(now.UnixNano())

	l.maybeSweep(now)
	return e.limiter
}

// maybeSweep runs at most once per idle period.
func (l *ipLimiter) maybeSweep(now time.Time) {
	l.mu.Lock()
	if now.Sub(l.lastSweep) < l.idle {
		l.mu.Unlock()
		return
	}
	l.lastSweep = now
	l.mu.Unlock()

	cutoff := now.Add(-l.idle).UnixNano()
	l.limiters.Range(func(key, v any) bool {
		if v.(*ipEntry).lastSeen.Load() < cutoff {
			l.limiters.Delete(key)
		}
		return true
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit allows n requests per window for each client IP. n <= 0
// disables limiting.
func (s *GoChatApp) rateLimit(n int, window time.Duration) func(http.Handler) http.Handler {
	if n <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	l := newIpLimiter(n, window)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.get(clientIP(r)).Allow() {
				s.writeError(w, r, NewTooManyRequestsError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
