package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"tasklist/internal/model"
)

// ErrNotOwned is returned by SetOrder when an id does not name one of the
// owner's tasks.
var ErrNotOwned = errors.New("task not owned by user")

// TaskRepository handles CRUD and ordering for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts task after the owner's current last position.
func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos sql.NullInt64
		if err := tx.Model(&model.Task{}).
			Select("MAX(position)").
			Where("user_id = ?", task.UserID).
			Row().Scan(&maxPos); err != nil {
			return fmt.Errorf("max position: %w", err)
		}
		task.Position = 0
		if maxPos.Valid {
			task.Position = int(maxPos.Int64) + 1
		}
		return tx.Create(task).Error
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// ListByUser returns the owner's tasks by position. A non-empty search keeps
// only titles containing it; instr is used because LIKE ignores case.
func (r *TaskRepository) ListByUser(ctx context.Context, userID uint, search string) ([]model.Task, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if search != "" {
		q = q.Where("instr(title, ?) > 0", search)
	}
	var tasks []model.Task
	if err := q.Order("position ASC, id ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListAll returns every task regardless of owner.
func (r *TaskRepository) ListAll(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Order("user_id ASC, position ASC, id ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list all tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) CountIncomplete(ctx context.Context, userID uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND complete = ?", userID, false).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count incomplete: %w", err)
	}
	return n, nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// FindAny loads a task without checking its owner.
func (r *TaskRepository) FindAny(ctx context.Context, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// Update writes the given columns of task and reloads it.
func (r *TaskRepository) Update(ctx context.Context, task *model.Task, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	db := r.db.WithContext(ctx)
	if err := db.Model(task).Updates(updates).Error; err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err := db.First(task, task.ID).Error; err != nil {
		return fmt.Errorf("reload task: %w", err)
	}
	return nil
}

// Delete removes one task. It returns gorm.ErrRecordNotFound when nothing
// matched.
func (r *TaskRepository) Delete(ctx context.Context, task *model.Task) error {
	res := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", task.UserID, task.ID).Delete(&model.Task{})
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetOrder gives ids[i] position i. Owner tasks missing from ids keep their
// relative order after the listed ones. Either every position is written or
// none is.
func (r *TaskRepository) SetOrder(ctx context.Context, userID uint, ids []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []model.Task
		if err := tx.Select("id", "position").
			Where("user_id = ?", userID).
			Order("position ASC, id ASC").
			Find(&current).Error; err != nil {
			return fmt.Errorf("load order: %w", err)
		}

		positions := make(map[uint]int, len(current))
		for _, t := range current {
			positions[t.ID] = t.Position
		}

		final := make([]uint, 0, len(current))
		listed := make(map[uint]bool, len(ids))
		for _, id := range ids {
			if _, ok := positions[id]; !ok {
				return fmt.Errorf("task %d: %w", id, ErrNotOwned)
			}
			listed[id] = true
			final = append(final, id)
		}
		for _, t := range current {
			if !listed[t.ID] {
				final = append(final, t.ID)
			}
		}

		for pos, id := range final {
			if positions[id] == pos {
				continue
			}
			if err := tx.Model(&model.Task{}).
				Where("user_id = ? AND id = ?", userID, id).
				Update("position", pos).Error; err != nil {
				return fmt.Errorf("set position of task %d: %w", id, err)
			}
		}
		return nil
	})
}

// deleteByUser removes every task of userID inside tx.
func deleteByUser(tx *gorm.DB, userID uint) error {
	if err := tx.Where("user_id = ?", userID).Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete user tasks: %w", err)
	}
	return nil
}
