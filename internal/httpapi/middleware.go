package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tasklist/internal/logging"
	"tasklist/internal/model"
	"tasklist/internal/service"
)

const (
	sessionCookie  = "tasklist_session"
	formTokenField = "csrf_token"
)

type ctxKey int

const (
	userKey ctxKey = iota
	requestIDKey
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags each request with an id and logs it on completion.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

		logging.Logger.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start).Round(time.Microsecond),
		}).Info("http request")
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logging.Logger.Errorf("panic serving %s %s request_id=%v: %v", r.Method, r.URL.Path, r.Context().Value(requestIDKey), v)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// currentUser returns the authenticated user or nil.
func currentUser(r *http.Request) *model.User {
	user, _ := r.Context().Value(userKey).(*model.User)
	return user
}

// sessionUser resolves the session cookie, if any.
func (s *Server) sessionUser(r *http.Request) (*model.User, error) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return nil, service.ErrAuthRequired
	}
	return s.users.UserFromSession(r.Context(), c.Value)
}

// requirePage redirects anonymous visitors to the login page and rejects
// state-changing requests without the user's form token.
func (s *Server) requirePage(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.sessionUser(r)
		if errors.Is(err, service.ErrAuthRequired) {
			http.Redirect(w, r, "/login/?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
			return
		}
		if err != nil {
			s.pageError(w, r, err)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			if err := s.users.CheckFormToken(user, r.PostFormValue(formTokenField)); err != nil {
				logging.Logger.Warnf("%s %s request_id=%v user=%d: %v", r.Method, r.URL.Path, r.Context().Value(requestIDKey), user.ID, err)
				s.pageError(w, r, err)
				return
			}
		}
		h(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// requireAPI accepts a bearer token or the session cookie.
func (s *Server) requireAPI(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			user *model.User
			err  error
		)
		if header := r.Header.Get("Authorization"); header != "" {
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeError(w, r, service.ErrAuthRequired)
				return
			}
			user, err = s.users.UserFromSession(r.Context(), strings.TrimSpace(token))
		} else {
			user, err = s.sessionUser(r)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		h(w, r.WithContext(withUser(r.Context(), user)))
	})
}

func (s *Server) setSession(w http.ResponseWriter, user *model.User) error {
	token, err := s.users.IssueSession(user)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.opts.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
