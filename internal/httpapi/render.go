package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"tasklist/internal/logging"
	"tasklist/internal/model"
	"tasklist/internal/service"
)

// pageData is shared by every template; each page reads the fields it needs.
type pageData struct {
	User      *model.User
	FormToken string
	Error     string
	Errors    map[string][]string

	Next     string
	Username string

	Tasks       []model.Task
	Count       int64
	SearchInput string
	Order       string

	Task *model.Task

	TaskID      uint
	Action      string
	Title       string
	Description string
	Complete    bool
}

type detail struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger.Warnf("encode response: %v", err)
	}
}

// writeError maps service errors to API responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	var nf *service.NotFoundError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ve.Fields)
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, detail{"Not found."})
	case errors.Is(err, service.ErrAuthRequired):
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
		writeJSON(w, http.StatusUnauthorized, detail{"Authentication credentials were not provided."})
	case errors.Is(err, service.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, detail{"Unable to log in with provided credentials."})
	default:
		logging.Logger.Errorf("%s %s request_id=%v: %v", r.Method, r.URL.Path, r.Context().Value(requestIDKey), err)
		writeJSON(w, http.StatusInternalServerError, detail{"Internal server error."})
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSON(w, http.StatusMethodNotAllowed, detail{`Method "` + r.Method + `" not allowed.`})
}

// render executes a page template into a buffer so a failure still yields a
// clean 500.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	if data.User != nil && data.FormToken == "" {
		token, err := s.users.FormToken(data.User)
		if err != nil {
			s.pageError(w, r, err)
			return
		}
		data.FormToken = token
	}
	var buf bytes.Buffer
	if err := s.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		logging.Logger.Errorf("render %s request_id=%v: %v", name, r.Context().Value(requestIDKey), err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// pageError maps service errors to plain responses for the page routes.
func (s *Server) pageError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case service.IsNotFound(err):
		http.NotFound(w, r)
	case errors.Is(err, service.ErrAuthRequired):
		http.Redirect(w, r, "/login/", http.StatusSeeOther)
	case errors.Is(err, service.ErrFormToken):
		http.Error(w, "Form token missing or invalid.", http.StatusForbidden)
	default:
		logging.Logger.Errorf("%s %s request_id=%v: %v", r.Method, r.URL.Path, r.Context().Value(requestIDKey), err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func pageMethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
