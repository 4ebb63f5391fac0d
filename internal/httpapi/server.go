// Package httpapi serves the task pages and the JSON API.
package httpapi

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tasklist/internal/config"
	"tasklist/internal/httpapi/schema"
	"tasklist/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"login", "register", "task_list", "task_detail", "task_form", "task_delete"}

// Options tunes server behaviour.
type Options struct {
	APIScope   string
	SessionTTL time.Duration
}

// Server routes HTTP requests to the task and user services.
type Server struct {
	tasks     *service.TaskService
	users     *service.UserService
	validator *schema.Validator
	pages     map[string]*template.Template
	opts      Options
}

func NewServer(tasks *service.TaskService, users *service.UserService, opts Options) (*Server, error) {
	validator, err := schema.New()
	if err != nil {
		return nil, err
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}

	if opts.APIScope == "" {
		opts.APIScope = config.ScopeOwner
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}

	return &Server{tasks: tasks, users: users, validator: validator, pages: pages, opts: opts}, nil
}

// Handler returns the routed handler with logging and recovery applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger, recoverer)

	r.HandleFunc("/login/", s.login)
	r.HandleFunc("/logout/", s.logout)
	r.HandleFunc("/register/", s.register)

	r.Handle("/", s.requirePage(s.taskList))
	r.Handle("/task/{id:[0-9]+}/", s.requirePage(s.taskDetail))
	r.Handle("/task-create/", s.requirePage(s.taskCreate))
	r.Handle("/task-update/{id:[0-9]+}/", s.requirePage(s.taskUpdate))
	r.Handle("/task-delete/{id:[0-9]+}/", s.requirePage(s.taskDelete))
	r.Handle("/task-reorder/", s.requirePage(s.taskReorder))

	r.HandleFunc("/api/token/", s.apiToken)
	r.Handle("/api/", s.requireAPI(s.apiList))
	r.Handle("/api/{id:[0-9]+}/", s.requireAPI(s.apiDetail))
	r.Handle("/api/reorder/", s.requireAPI(s.apiReorder))
	r.Handle("/api/telegram-link/", s.requireAPI(s.apiTelegramLink))
	r.Handle("/api/account/", s.requireAPI(s.apiAccount))

	return r
}

func (s *Server) globalAPI() bool {
	return s.opts.APIScope == config.ScopeGlobal
}
