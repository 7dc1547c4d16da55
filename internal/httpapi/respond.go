package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"hwid-license-server/internal/lifecycle"

	"github.com/go-chi/render"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Status: "error", Message: msg})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("content-type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// fail maps an engine error onto a response. Storage failures are logged and
// hidden from the client.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, lifecycle.ErrInvalidInput) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.log.Error("request failed", "path", r.URL.Path, "err", err, "storage", lifecycle.IsStorage(err))
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

// decode reads a JSON body into dst, rejecting unknown fields, and validates
// it. On failure it writes a 400 with msg and returns false.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any, msg string) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, msg)
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, msg)
		return false
	}
	return true
}
