package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"tasklist/internal/auth"
	"tasklist/internal/config"
	"tasklist/internal/model"
	"tasklist/internal/repository"
	"tasklist/internal/service"
)

type testEnv struct {
	handler http.Handler
	tasks   *service.TaskService
	users   *service.UserService
}

func newTestEnv(t *testing.T, scope string) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := repository.NewDB(fmt.Sprintf("file:http_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	tasks := service.NewTaskService(repository.NewTaskRepository(db))
	users := service.NewUserService(repository.NewUserRepository(db), auth.NewTokens("test-secret", time.Hour))
	srv, err := NewServer(tasks, users, Options{APIScope: scope, SessionTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &testEnv{handler: srv.Handler(), tasks: tasks, users: users}
}

func (e *testEnv) user(t *testing.T, name string) (*model.User, string) {
	t.Helper()
	u, err := e.users.Register(context.Background(), name, "password123", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	token, err := e.users.IssueSession(u)
	if err != nil {
		t.Fatal(err)
	}
	return u, token
}

func (e *testEnv) task(t *testing.T, u *model.User, title string) *model.Task {
	t.Helper()
	task, err := e.tasks.CreateTask(context.Background(), u, service.TaskInput{Title: title})
	if err != nil {
		t.Fatal(err)
	}
	return task
}

func (e *testEnv) api(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) page(t *testing.T, method, path, token string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if form != nil {
		if _, set := form[formTokenField]; !set && token != "" {
			form.Set(formTokenField, e.formToken(t, token))
		}
		rd = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, rd)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// formToken returns the form token the pages hand to the session's user.
func (e *testEnv) formToken(t *testing.T, session string) string {
	t.Helper()
	u, err := e.users.UserFromSession(context.Background(), session)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	token, err := e.users.FormToken(u)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAPICreateAndGet(t *testing.T) {
	e := newTestEnv(t, config.ScopeOwner)
	_, token := e.user(t, "alice")

	rec := e.api(t, http.MethodPost, "/api/", token, `{"title":"Buy milk","description":"2 litres"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d body=%s", rec.Code, rec.Body)
	}
	created := decodeTask(t, rec)
	if created["complete"] != false || created["title"] != "Buy milk" || created["position"] != float64(0) {
		t.Errorf("created = %v", created)
	}

	rec = e.api(t, http.MethodGet, fmt.Sprintf("/api/%v/", created["id"]), token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	got := decodeTask(t, rec)
	if got["description"] != "2 litres" {
		t.Errorf("got = %v", got)
	}
}

func TestAPICreateValidation(t *testing.T) {
	e := newTestEnv(t, config.ScopeOwner)
	_, token := e.user(t, "alice")

	for _, body := range []string{`{}`, `{"title":"   "}`, `{"title":"x","complete":"yes"}`, `not json`} {
		rec := e.api(t, http.MethodPost, "/api/", token, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("POST %s status = %d, want 400", body, rec.Code)
		}
	}

	rec := e.api(t, http.MethodPost, "/api/", token, `{}`)
	var fields map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &fields); err != nil {
		t.Fatal(err)
	}
	if len(fields["title"]) == 0 {
		t.Errorf("errors = %v, want title", fields)
	}
}

func TestAPIPatchComplete(t *testing.T) {
	e := newTestEnv(t, config.ScopeOwner)
	alice, token := e.user(t, "alice")
	e.task(t, alice, "T1")
	t2 := e.task(t, alice, "T2")

	rec := e.api(t, http.MethodPatch, fmt.Sprintf("/api/%d/", t2.ID), token, `{"complete": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d body=%s", rec.Code, rec.Body)
	}
	got := decodeTask(t, rec)
	if got["complete"] != true || got["title"] != "T2" || got["position"] != float64(1) || got["description"] != "" {
		t.Errorf("patched = %v", got)
	}
}

func TestAPIDelete(t *testing.T) {
	e := newTestEnv(t, config.ScopeOwner)
	alice, token := e.user(t, "alice")
	task := e.task(t, alice, "T1")
	path := fmt.Sprintf("/api/%d/", task.ID)

	if rec := e.api(t, http.MethodDelete, path, token, ""); rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("DELETE status = %d body=%q", rec.Code, rec.Body)
	}
	if rec := e.api(t, http.MethodGet, path, token, ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", rec.Code)
	}
	if rec := e.api(t, http.MethodDelete, path, token, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", rec.Code)
	}
}

func TestAPIScopes(t *testing.T) {
	tests := []struct {
		scope      string
		listLen    int
		foreignGet int
	}{
		{config.ScopeOwner, 1, http.StatusNotFound},
		{config.ScopeGlobal, 2, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			e := newTestEnv(t, tt.scope)
			alice, token := e.user(t, "alice")
			bob, _ := e.user(t, "bob")
			e.task(t, alice, "mine")
			theirs := e.task(t, bob, "theirs")

			rec := e.api(t, http.MethodGet, "/api/", token, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("list status = %d", rec.Code)
			}
			var list []map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
				t.Fatal(err)
			}
			if len(list) != tt.listLen {
				t.Errorf("list len = %d, want %d", len(list), tt.listLen)
			}

			rec = e.api(t, http.MethodGet, fmt.Sprintf("/api/%d/", theirs.ID), token, "")
			if rec.Code != tt.foreignGet {
				t.Errorf("foreign GET = %d, want %d", rec.Code, tt.foreignGet)
			}
		})
	}
}

func TestAPIEmptyListIsArray(t *testing.T) {
	e := newTestEnv(t, config.ScopeOwner)
	_, token := e.user(t, "alice")

	rec := e.api(t, http.MethodGet, "/api/", token, "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body)
	}
}

func TestAPIAuth(t *testing.T) {
	e := newTestEnv(t, config.ScopeOwner)
	e.user(t, "alice")

	if rec := e.api(t, http.MethodGet, "/api/", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous = %d, want 401", rec.Code)
	}
	if rec := e.api(t, http.MethodGet, "/api/", "garbage", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d, want 401", rec.Code)
	}

	rec := e.api(t, http.MethodPost, "/api/token/", "", `{"username":"alice","password":"password123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d body=%s", rec.Code, rec.Body)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if rec := e.api(t, http.MethodGet, "/api/", body["token"], ""); rec.Code != http.StatusOK {
		t.Errorf("issued token = %d, want 200", rec.Code)
	}

	if rec := e.api(t, http.MethodPost, "/api/token/", "", `{"username":"alice","password":"nope"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad credentials = %d, want 401", rec.Code)
	}
}

func TestAPIMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t, config.ScopeOwner)
	_, token := e.user(t, "alice")

	if rec := e.api(t, http.MethodPut, "/api/", token, `{}`); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /api/ = %d, want 405", rec.Code)
	}
}

func TestAPIReorder(t *testing.T) {
	e := newTestEnv(t, config.ScopeOwner)
	alice, token := e.user(t, "alice")
	bob, _ := e.user(t, "bob")
	t1 := e.task(t, alice, "T1")
	t2 := e.task(t, alice, "T2")
	t3 := e.task(t, alice, "T3")
	foreign := e.task(t, bob, "B1")

	rec := e.api(t, http.MethodPost, "/api/reorder/", token, fmt.Sprintf(`{"order":[%d,%d,%d]}`, t3.ID, t1.ID, t2.ID))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reorder = %d body=%s", rec.Code, rec.Body)
	}
	rec = e.api(t, http.MethodPost, "/api/reorder/", token, fmt.Sprintf(`{"order":[%d,%d]}`, t1.ID, foreign.ID))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("foreign reorder = %d, want 400", rec.Code)
	}

	list, err := e.tasks.List(context.Background(), alice, "")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, task := range list.Tasks {
		got = append(got, fmt.Sprintf("%s=%d", task.Title, task.Position))
	}
	if strings.Join(got, ",") != "T3=0,T1=1,T2=2" {
		t.Errorf("positions = %v", got)
	}
}

func TestAPITelegramLinkAndAccount(t *testing.T) {
	e := newTestEnv(t, config.ScopeOwner)
	alice, token := e.user(t, "alice")
	e.task(t, alice, "T1")

	rec := e.api(t, http.MethodPost, "/api/telegram-link/", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("link = %d", rec.Code)
	}
	var link map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &link); err != nil {
		t.Fatal(err)
	}
	if link["code"] == "" || link["command"] != "/link "+link["code"] {
		t.Errorf("link body = %v", link)
	}

	if rec := e.api(t, http.MethodDelete, "/api/account/", token, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete account = %d", rec.Code)
	}
	if rec := e.api(t, http.MethodGet, "/api/", token, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("after account delete = %d, want 401", rec.Code)
	}
	all, err := e.tasks.ListAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("tasks left = %d, want 0", len(all))
	}
}

func titlesOf(tasks []model.Task) string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.Title
	}
	return strings.Join(out, ",")
}
