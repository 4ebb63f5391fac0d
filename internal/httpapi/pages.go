package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"tasklist/internal/service"
)

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, err := s.sessionUser(r); err == nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		s.render(w, r, http.StatusOK, "login", pageData{Next: r.URL.Query().Get("next")})

	case http.MethodPost:
		username := r.PostFormValue("username")
		next := r.PostFormValue("next")
		user, err := s.users.Authenticate(r.Context(), username, r.PostFormValue("password"))
		if errors.Is(err, service.ErrInvalidCredentials) {
			s.render(w, r, http.StatusBadRequest, "login", pageData{
				Error:    "Please enter a correct username and password.",
				Username: username,
				Next:     next,
			})
			return
		}
		if err != nil {
			s.pageError(w, r, err)
			return
		}
		if err := s.setSession(w, user); err != nil {
			s.pageError(w, r, err)
			return
		}
		http.Redirect(w, r, safeNext(next), http.StatusSeeOther)

	default:
		pageMethodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost:
		clearSession(w)
		http.Redirect(w, r, "/login/", http.StatusSeeOther)
	default:
		pageMethodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, err := s.sessionUser(r); err == nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		s.render(w, r, http.StatusOK, "register", pageData{})

	case http.MethodPost:
		username := r.PostFormValue("username")
		user, err := s.users.Register(r.Context(), username, r.PostFormValue("password1"), r.PostFormValue("password2"))
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			s.render(w, r, http.StatusBadRequest, "register", pageData{Errors: ve.Fields, Username: username})
			return
		}
		if err != nil {
			s.pageError(w, r, err)
			return
		}
		if err := s.setSession(w, user); err != nil {
			s.pageError(w, r, err)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)

	default:
		pageMethodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) taskList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		pageMethodNotAllowed(w, "GET")
		return
	}
	user := currentUser(r)
	search := r.URL.Query().Get("search-area")
	list, err := s.tasks.List(r.Context(), user, search)
	if err != nil {
		s.pageError(w, r, err)
		return
	}

	ids := make([]string, len(list.Tasks))
	for i, task := range list.Tasks {
		ids[i] = strconv.FormatUint(uint64(task.ID), 10)
	}
	s.render(w, r, http.StatusOK, "task_list", pageData{
		User:        user,
		Tasks:       list.Tasks,
		Count:       list.IncompleteCount,
		SearchInput: list.Search,
		Order:       strings.Join(ids, ","),
	})
}

func (s *Server) taskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		pageMethodNotAllowed(w, "GET")
		return
	}
	user := currentUser(r)
	task, err := s.tasks.GetTask(r.Context(), user, taskID(r))
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "task_detail", pageData{User: user, Task: task})
}

// formInput reads the task form. An unchecked checkbox is simply absent.
func formInput(r *http.Request) service.TaskInput {
	complete := r.PostFormValue("complete")
	return service.TaskInput{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		Complete:    complete == "on" || complete == "true" || complete == "1",
	}
}

func (s *Server) taskCreate(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	switch r.Method {
	case http.MethodGet:
		s.render(w, r, http.StatusOK, "task_form", pageData{User: user, Action: "/task-create/"})

	case http.MethodPost:
		input := formInput(r)
		_, err := s.tasks.CreateTask(r.Context(), user, input)
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			s.render(w, r, http.StatusBadRequest, "task_form", pageData{
				User:        user,
				Action:      "/task-create/",
				Errors:      ve.Fields,
				Title:       input.Title,
				Description: input.Description,
				Complete:    input.Complete,
			})
			return
		}
		if err != nil {
			s.pageError(w, r, err)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)

	default:
		pageMethodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) taskUpdate(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := taskID(r)
	action := "/task-update/" + strconv.FormatUint(uint64(id), 10) + "/"
	switch r.Method {
	case http.MethodGet:
		task, err := s.tasks.GetTask(r.Context(), user, id)
		if err != nil {
			s.pageError(w, r, err)
			return
		}
		s.render(w, r, http.StatusOK, "task_form", pageData{
			User:        user,
			Action:      action,
			TaskID:      task.ID,
			Title:       task.Title,
			Description: task.Description,
			Complete:    task.Complete,
		})

	case http.MethodPost:
		input := formInput(r)
		_, err := s.tasks.UpdateTask(r.Context(), user, id, service.TaskPatch{
			Title:       &input.Title,
			Description: &input.Description,
			Complete:    &input.Complete,
		})
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			s.render(w, r, http.StatusBadRequest, "task_form", pageData{
				User:        user,
				Action:      action,
				TaskID:      id,
				Errors:      ve.Fields,
				Title:       input.Title,
				Description: input.Description,
				Complete:    input.Complete,
			})
			return
		}
		if err != nil {
			s.pageError(w, r, err)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)

	default:
		pageMethodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) taskDelete(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := taskID(r)
	switch r.Method {
	case http.MethodGet:
		task, err := s.tasks.GetTask(r.Context(), user, id)
		if err != nil {
			s.pageError(w, r, err)
			return
		}
		s.render(w, r, http.StatusOK, "task_delete", pageData{User: user, Task: task})

	case http.MethodPost:
		if err := s.tasks.DeleteTask(r.Context(), user, id); err != nil {
			s.pageError(w, r, err)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)

	default:
		pageMethodNotAllowed(w, "GET, POST")
	}
}

// taskReorder takes the new order as a comma-separated id list in the
// "position" field.
func (s *Server) taskReorder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		pageMethodNotAllowed(w, "POST")
		return
	}
	ids, err := service.ParseOrder(r.PostFormValue("position"))
	if err == nil {
		err = s.tasks.Reorder(r.Context(), currentUser(r), ids)
	}
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
