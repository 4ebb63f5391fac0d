package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tasklist/internal/httpapi/schema"
	"tasklist/internal/model"
	"tasklist/internal/service"
)

const maxBodyBytes = 1 << 20

type taskCreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Complete    bool   `json:"complete"`
}

type taskPatchRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Complete    *bool   `json:"complete"`
}

type reorderRequest struct {
	Order []uint `json:"order"`
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// readBody reads the request body and validates it against the named schema.
func (s *Server) readBody(r *http.Request, name string, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := s.validator.Validate(name, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		verr := &service.ValidationError{}
		verr.Add("non_field_errors", "JSON parse error - "+err.Error())
		return verr
	}
	return nil
}

func taskID(r *http.Request) uint {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return uint(id)
}

// apiList serves /api/.
func (s *Server) apiList(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	switch r.Method {
	case http.MethodGet:
		var tasks []model.Task
		if s.globalAPI() {
			all, err := s.tasks.ListAll(r.Context())
			if err != nil {
				writeError(w, r, err)
				return
			}
			tasks = all
		} else {
			list, err := s.tasks.List(r.Context(), user, "")
			if err != nil {
				writeError(w, r, err)
				return
			}
			tasks = list.Tasks
		}
		if tasks == nil {
			tasks = []model.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)

	case http.MethodPost:
		var req taskCreateRequest
		if err := s.readBody(r, schema.TaskCreate, &req); err != nil {
			writeError(w, r, err)
			return
		}
		task, err := s.tasks.CreateTask(r.Context(), user, service.TaskInput{
			Title:       req.Title,
			Description: req.Description,
			Complete:    req.Complete,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)

	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

// apiDetail serves /api/<id>/.
func (s *Server) apiDetail(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := taskID(r)
	switch r.Method {
	case http.MethodGet:
		var (
			task *model.Task
			err  error
		)
		if s.globalAPI() {
			task, err = s.tasks.GetAnyTask(r.Context(), id)
		} else {
			task, err = s.tasks.GetTask(r.Context(), user, id)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, task)

	case http.MethodPatch:
		var req taskPatchRequest
		if err := s.readBody(r, schema.TaskPatch, &req); err != nil {
			writeError(w, r, err)
			return
		}
		patch := service.TaskPatch{Title: req.Title, Description: req.Description, Complete: req.Complete}
		var (
			task *model.Task
			err  error
		)
		if s.globalAPI() {
			task, err = s.tasks.UpdateAnyTask(r.Context(), id, patch)
		} else {
			task, err = s.tasks.UpdateTask(r.Context(), user, id, patch)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, task)

	case http.MethodDelete:
		var err error
		if s.globalAPI() {
			err = s.tasks.DeleteAnyTask(r.Context(), id)
		} else {
			err = s.tasks.DeleteTask(r.Context(), user, id)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, "GET, PATCH, DELETE")
	}
}

// apiReorder applies a new order to the caller's tasks.
func (s *Server) apiReorder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req reorderRequest
	if err := s.readBody(r, schema.Reorder, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.tasks.Reorder(r.Context(), currentUser(r), req.Order); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiToken exchanges credentials for a bearer token.
func (s *Server) apiToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req tokenRequest
	if err := s.readBody(r, schema.Token, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := s.users.IssueSession(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// apiTelegramLink hands out a code for the bot's /link command.
func (s *Server) apiTelegramLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	code, err := s.users.TelegramLinkCode(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code, "command": "/link " + code})
}

// apiAccount deletes the caller together with their tasks.
func (s *Server) apiAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, "DELETE")
		return
	}
	if err := s.users.DeleteAccount(r.Context(), currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}
