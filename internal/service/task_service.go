package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"tasklist/internal/logging"
	"tasklist/internal/model"
	"tasklist/internal/repository"
)

const maxTitleLen = 200

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title       string
	Description string
	Complete    bool
}

// TaskPatch carries a partial update; nil fields are left alone.
type TaskPatch struct {
	Title       *string
	Description *string
	Complete    *bool
}

// TaskList is one owner's tasks in display order. IncompleteCount covers all
// of the owner's tasks, not just those matching Search.
type TaskList struct {
	Tasks           []model.Task
	IncompleteCount int64
	Search          string
}

// TaskService wraps task-related business logic.
type TaskService struct {
	taskRepo *repository.TaskRepository
}

func NewTaskService(taskRepo *repository.TaskRepository) *TaskService {
	return &TaskService{taskRepo: taskRepo}
}

func (s *TaskService) CreateTask(ctx context.Context, user *model.User, input TaskInput) (*model.Task, error) {
	if user == nil {
		return nil, ErrAuthRequired
	}
	title, err := validateTitle(input.Title)
	if err != nil {
		return nil, err
	}

	task := model.Task{
		UserID:      user.ID,
		Title:       title,
		Description: input.Description,
		Complete:    input.Complete,
	}
	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}

	logging.Logger.Infof("task created id=%d user=%d position=%d", task.ID, user.ID, task.Position)
	return &task, nil
}

// List returns the user's tasks by position, keeping only titles that contain
// search when it is non-empty.
func (s *TaskService) List(ctx context.Context, user *model.User, search string) (*TaskList, error) {
	if user == nil {
		return nil, ErrAuthRequired
	}
	count, err := s.taskRepo.CountIncomplete(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.taskRepo.ListByUser(ctx, user.ID, search)
	if err != nil {
		return nil, err
	}
	return &TaskList{Tasks: tasks, IncompleteCount: count, Search: search}, nil
}

// ListAll returns every task of every user.
func (s *TaskService) ListAll(ctx context.Context) ([]model.Task, error) {
	return s.taskRepo.ListAll(ctx)
}

func (s *TaskService) GetTask(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	if user == nil {
		return nil, ErrAuthRequired
	}
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	return task, notFound(err, taskID)
}

// GetAnyTask loads a task without an ownership check.
func (s *TaskService) GetAnyTask(ctx context.Context, taskID uint) (*model.Task, error) {
	task, err := s.taskRepo.FindAny(ctx, taskID)
	return task, notFound(err, taskID)
}

func (s *TaskService) UpdateTask(ctx context.Context, user *model.User, taskID uint, patch TaskPatch) (*model.Task, error) {
	task, err := s.GetTask(ctx, user, taskID)
	if err != nil {
		return nil, err
	}
	return s.applyPatch(ctx, task, patch)
}

// UpdateAnyTask is UpdateTask without an ownership check.
func (s *TaskService) UpdateAnyTask(ctx context.Context, taskID uint, patch TaskPatch) (*model.Task, error) {
	task, err := s.GetAnyTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return s.applyPatch(ctx, task, patch)
}

func (s *TaskService) applyPatch(ctx context.Context, task *model.Task, patch TaskPatch) (*model.Task, error) {
	updates := make(map[string]interface{})
	if patch.Title != nil {
		title, err := validateTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		updates["title"] = title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Complete != nil {
		updates["complete"] = *patch.Complete
	}
	if err := s.taskRepo.Update(ctx, task, updates); err != nil {
		return nil, err
	}
	logging.Logger.Infof("task updated id=%d user=%d fields=%d", task.ID, task.UserID, len(updates))
	return task, nil
}

func (s *TaskService) DeleteTask(ctx context.Context, user *model.User, taskID uint) error {
	task, err := s.GetTask(ctx, user, taskID)
	if err != nil {
		return err
	}
	return s.delete(ctx, task)
}

// DeleteAnyTask is DeleteTask without an ownership check.
func (s *TaskService) DeleteAnyTask(ctx context.Context, taskID uint) error {
	task, err := s.GetAnyTask(ctx, taskID)
	if err != nil {
		return err
	}
	return s.delete(ctx, task)
}

func (s *TaskService) delete(ctx context.Context, task *model.Task) error {
	if err := notFound(s.taskRepo.Delete(ctx, task), task.ID); err != nil {
		return err
	}
	logging.Logger.Infof("task deleted id=%d user=%d", task.ID, task.UserID)
	return nil
}

// Reorder gives the listed tasks positions 0..n-1 in the given order. Every id
// must belong to user and appear once; otherwise nothing changes.
func (s *TaskService) Reorder(ctx context.Context, user *model.User, ids []uint) error {
	if user == nil {
		return ErrAuthRequired
	}
	if len(ids) == 0 {
		return newValidationError("position", "This field is required.")
	}
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return newValidationError("position", fmt.Sprintf("Task %d is listed more than once.", id))
		}
		seen[id] = true
	}

	if err := s.taskRepo.SetOrder(ctx, user.ID, ids); err != nil {
		if errors.Is(err, repository.ErrNotOwned) {
			return newValidationError("position", "Order references a task that does not exist.")
		}
		return err
	}
	logging.Logger.Infof("tasks reordered user=%d count=%d", user.ID, len(ids))
	return nil
}

// ParseOrder parses a comma-separated list of task ids.
func ParseOrder(raw string) ([]uint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, newValidationError("position", "This field is required.")
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil || id == 0 {
			return nil, newValidationError("position", fmt.Sprintf("%q is not a valid task id.", strings.TrimSpace(part)))
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

func validateTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", newValidationError("title", "This field is required.")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "", newValidationError("title", fmt.Sprintf("Ensure this field has no more than %d characters.", maxTitleLen))
	}
	return title, nil
}

// notFound maps gorm.ErrRecordNotFound to a *NotFoundError.
func notFound(err error, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Resource: "task", ID: id}
	}
	return err
}
