// Package middleware provides HTTP middleware for logging, panic recovery, metrics and
// token checks for the nbrunner server.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
	"git.home.luguber.info/inful/nbrunner/internal/metrics"
)

// AccessTokenHeader carries the UI access token.
const AccessTokenHeader = "X-Access-Token"

// Chain wraps next with request logging and panic recovery. Recovery runs
// inside logging so a recovered panic is logged with its 500 status.
func Chain(logger *slog.Logger, adapter *ferrors.HTTPErrorAdapter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return logRequests(logger, recoverPanics(logger, adapter, next))
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := newStatusRecorder(w)
		began := time.Now()
		next.ServeHTTP(sr, r)
		elapsed := float64(time.Since(began).Microseconds()) / 1000
		logger.Info("HTTP request",
			logfields.Method(r.Method),
			logfields.Path(r.URL.Path),
			logfields.Status(sr.status),
			logfields.DurationMS(elapsed),
			logfields.UserAgent(r.UserAgent()),
			logfields.RemoteAddr(r.RemoteAddr))
	})
}

func recoverPanics(logger *slog.Logger, adapter *ferrors.HTTPErrorAdapter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			logger.Error("Handler panicked",
				slog.Any("panic", v),
				logfields.Method(r.Method),
				logfields.Path(r.URL.Path))
			adapter.WriteErrorResponse(w, r, ferrors.InternalError("internal server error").
				WithContext("path", r.URL.Path).
				Build())
		}()
		next.ServeHTTP(w, r)
	})
}

// Metrics records request counts and latency per chi route pattern. Unrouted
// requests are labelled "unmatched".
func Metrics(rec metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := newStatusRecorder(w)
			began := time.Now()
			next.ServeHTTP(sr, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			rec.ObserveHTTPRequest(r.Method, route, sr.status, time.Since(began))
		})
	}
}

// TokenGuard rejects requests whose X-Access-Token header (or token query
// parameter) does not match token. An empty token disables the check.
func TokenGuard(token string, adapter *ferrors.HTTPErrorAdapter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AccessTokenHeader)
			if got == "" {
				got = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				adapter.WriteErrorResponse(w, r, ferrors.AuthError("Unauthorized").Build())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder remembers the status written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
