package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/coursekeep/coursekeep/internal/app"
	"github.com/coursekeep/coursekeep/internal/buildinfo"
	"github.com/coursekeep/coursekeep/internal/httpjson"
	"github.com/coursekeep/coursekeep/internal/ports"
)

const defaultRequestTimeout = 60 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, buildinfo.Current())
}

func (s *Server) listPlatforms(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, s.registry.Platforms())
}

func accessLogFn(r *http.Request, status, size int, duration time.Duration) {
	logger := hlog.FromRequest(r)
	logger.Info().
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("http")
}

// writeServiceError mappe les erreurs de la couche app sur des statuts HTTP
// et expose le code stable quand il y en a un.
func writeServiceError(w http.ResponseWriter, err error) {
	if ce, ok := app.Coded(err); ok {
		httpjson.WriteCodedError(w, codeStatus(ce.Code), ce.Code, ce.Error())
		return
	}
	switch {
	case errors.Is(err, ports.ErrNotFound):
		httpjson.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ports.ErrConflict):
		httpjson.WriteError(w, http.StatusConflict, err.Error())
	default:
		httpjson.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

func codeStatus(code string) int {
	switch code {
	case app.CodeAuthInvalidCredentials, app.CodeAuthExpired:
		return http.StatusUnauthorized
	case app.CodeAuthCaptchaRequired, app.CodeAuthMFARequired:
		return http.StatusForbidden
	case app.CodeContentLocked:
		return http.StatusLocked
	case app.CodeInvalidSelection:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
