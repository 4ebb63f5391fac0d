package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorm.io/gorm"

	"tasklist/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := NewDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string) *model.User {
	t.Helper()
	u := &model.User{Username: name, PasswordHash: "x"}
	if err := NewUserRepository(db).Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func seedTasks(t *testing.T, repo *TaskRepository, userID uint, titles ...string) []model.Task {
	t.Helper()
	var out []model.Task
	for _, title := range titles {
		task := model.Task{UserID: userID, Title: title}
		if err := repo.Create(context.Background(), &task); err != nil {
			t.Fatalf("create %q: %v", title, err)
		}
		out = append(out, task)
	}
	return out
}

func positionsOf(t *testing.T, repo *TaskRepository, userID uint) map[uint]int {
	t.Helper()
	tasks, err := repo.ListByUser(context.Background(), userID, "")
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[uint]int, len(tasks))
	for _, task := range tasks {
		out[task.ID] = task.Position
	}
	return out
}

func TestCreateAppendsPosition(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	a := seedTasks(t, repo, alice.ID, "one", "two", "three")
	b := seedTasks(t, repo, bob.ID, "other")

	for i, task := range a {
		if task.Position != i {
			t.Errorf("task %q position = %d, want %d", task.Title, task.Position, i)
		}
	}
	if b[0].Position != 0 {
		t.Errorf("first task of another owner position = %d, want 0", b[0].Position)
	}

	// Positions are not renumbered on delete; the next task goes after the max.
	if err := repo.Delete(context.Background(), &a[1]); err != nil {
		t.Fatal(err)
	}
	next := seedTasks(t, repo, alice.ID, "four")
	if next[0].Position != 3 {
		t.Errorf("position after delete = %d, want 3", next[0].Position)
	}
}

func TestListByUserFiltersCaseSensitive(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	seedTasks(t, repo, alice.ID, "Buy milk", "buy bread", "Call mum")
	seedTasks(t, repo, bob.ID, "Buy shoes")

	all, err := repo.ListByUser(context.Background(), alice.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}

	got, err := repo.ListByUser(context.Background(), alice.ID, "Buy")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "Buy milk" {
		t.Fatalf("filtered = %+v, want only Buy milk", got)
	}
}

func TestCountIncomplete(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	alice := seedUser(t, db, "alice")
	tasks := seedTasks(t, repo, alice.ID, "a", "b", "c")
	if err := repo.Update(context.Background(), &tasks[0], map[string]interface{}{"complete": true}); err != nil {
		t.Fatal(err)
	}

	n, err := repo.CountIncomplete(context.Background(), alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountIncomplete = %d, want 2", n)
	}
}

func TestSetOrder(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	alice := seedUser(t, db, "alice")
	tasks := seedTasks(t, repo, alice.ID, "T1", "T2", "T3")
	t1, t2, t3 := tasks[0].ID, tasks[1].ID, tasks[2].ID

	if err := repo.SetOrder(context.Background(), alice.ID, []uint{t3, t1, t2}); err != nil {
		t.Fatalf("SetOrder: %v", err)
	}
	got := positionsOf(t, repo, alice.ID)
	want := map[uint]int{t3: 0, t1: 1, t2: 2}
	for id, pos := range want {
		if got[id] != pos {
			t.Errorf("task %d position = %d, want %d", id, got[id], pos)
		}
	}
}

func TestSetOrderAppendsUnlisted(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	alice := seedUser(t, db, "alice")
	tasks := seedTasks(t, repo, alice.ID, "T1", "T2", "T3")

	if err := repo.SetOrder(context.Background(), alice.ID, []uint{tasks[2].ID}); err != nil {
		t.Fatal(err)
	}
	list, err := repo.ListByUser(context.Background(), alice.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	var titles []string
	for _, task := range list {
		titles = append(titles, task.Title)
	}
	if strings.Join(titles, ",") != "T3,T1,T2" {
		t.Errorf("order = %v, want T3,T1,T2", titles)
	}
}

func TestSetOrderHealsDuplicatePositions(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	alice := seedUser(t, db, "alice")
	tasks := seedTasks(t, repo, alice.ID, "T1", "T2", "T3")
	if err := db.Model(&model.Task{}).Where("user_id = ?", alice.ID).Update("position", 5).Error; err != nil {
		t.Fatal(err)
	}

	if err := repo.SetOrder(context.Background(), alice.ID, []uint{tasks[1].ID, tasks[2].ID, tasks[0].ID}); err != nil {
		t.Fatal(err)
	}
	got := positionsOf(t, repo, alice.ID)
	seen := map[int]bool{}
	for _, pos := range got {
		if seen[pos] {
			t.Fatalf("duplicate position %d in %v", pos, got)
		}
		seen[pos] = true
	}
	if got[tasks[1].ID] != 0 || got[tasks[2].ID] != 1 || got[tasks[0].ID] != 2 {
		t.Errorf("positions = %v", got)
	}
}

func TestSetOrderRejectsForeignTask(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	mine := seedTasks(t, repo, alice.ID, "T1", "T2")
	theirs := seedTasks(t, repo, bob.ID, "B1")
	before := positionsOf(t, repo, alice.ID)

	err := repo.SetOrder(context.Background(), alice.ID, []uint{mine[1].ID, theirs[0].ID, mine[0].ID})
	if !errors.Is(err, ErrNotOwned) {
		t.Fatalf("SetOrder error = %v, want ErrNotOwned", err)
	}
	after := positionsOf(t, repo, alice.ID)
	for id, pos := range before {
		if after[id] != pos {
			t.Errorf("task %d moved from %d to %d", id, pos, after[id])
		}
	}
}

func TestSetOrderRollsBackOnWriteFailure(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	alice := seedUser(t, db, "alice")
	tasks := seedTasks(t, repo, alice.ID, "T1", "T2", "T3")
	before := positionsOf(t, repo, alice.ID)

	writeErr := errors.New("disk I/O error")
	updates := 0
	if err := db.Callback().Update().Before("gorm:update").Register("test:fail_second_update", func(tx *gorm.DB) {
		updates++
		if updates == 2 {
			tx.AddError(writeErr)
		}
	}); err != nil {
		t.Fatal(err)
	}

	err := repo.SetOrder(context.Background(), alice.ID, []uint{tasks[2].ID, tasks[0].ID, tasks[1].ID})
	if !errors.Is(err, writeErr) {
		t.Fatalf("SetOrder error = %v, want injected write error", err)
	}
	if updates < 2 {
		t.Fatalf("updates attempted = %d, want at least 2", updates)
	}
	if err := db.Callback().Update().Remove("test:fail_second_update"); err != nil {
		t.Fatal(err)
	}

	after := positionsOf(t, repo, alice.ID)
	for id, pos := range before {
		if after[id] != pos {
			t.Errorf("task %d at %d after failed reorder, want %d", id, after[id], pos)
		}
	}
}

func TestDeleteMissing(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	alice := seedUser(t, db, "alice")

	err := repo.Delete(context.Background(), &model.Task{ID: 42, UserID: alice.ID})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("Delete error = %v, want ErrRecordNotFound", err)
	}
}
