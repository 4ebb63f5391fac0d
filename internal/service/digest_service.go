package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"tasklist/internal/model"
)

// DigestService builds Telegram-ready summaries of a user's list.
type DigestService struct {
	tasks *TaskService
}

func NewDigestService(tasks *TaskService) *DigestService {
	return &DigestService{tasks: tasks}
}

// Summary renders the user's whole list in position order.
func (s *DigestService) Summary(ctx context.Context, user *model.User) (string, error) {
	list, err := s.tasks.List(ctx, user, "")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("📋 <b>%s</b>: %s\n\n", html.EscapeString(user.Username), incompleteLabel(list.IncompleteCount)))
	if len(list.Tasks) == 0 {
		b.WriteString("— no tasks yet\n")
	}
	for i, task := range list.Tasks {
		b.WriteString(formatTask(i+1, task))
	}
	return strings.TrimSpace(b.String()), nil
}

// DailyDigest renders only incomplete tasks. ok is false when there is
// nothing left to do, so callers can skip the message.
func (s *DigestService) DailyDigest(ctx context.Context, user *model.User, now time.Time) (text string, ok bool, err error) {
	list, err := s.tasks.List(ctx, user, "")
	if err != nil {
		return "", false, err
	}
	if list.IncompleteCount == 0 {
		return "", false, nil
	}

	var b strings.Builder
	b.WriteString("🗓 <b>Task digest</b> ")
	b.WriteString(now.Format("2006-01-02"))
	b.WriteString("\n")
	b.WriteString(incompleteLabel(list.IncompleteCount))
	b.WriteString("\n\n")
	n := 0
	for _, task := range list.Tasks {
		if task.Complete {
			continue
		}
		n++
		b.WriteString(formatTask(n, task))
	}
	return strings.TrimSpace(b.String()), true, nil
}

func incompleteLabel(n int64) string {
	if n == 1 {
		return "1 incomplete task"
	}
	return fmt.Sprintf("%d incomplete tasks", n)
}

func formatTask(n int, task model.Task) string {
	var sb strings.Builder

	icon := "🟢"
	if task.Complete {
		icon = "✅"
	}
	title := html.EscapeString(strings.TrimSpace(task.Title))
	if task.Complete {
		title = "<s>" + title + "</s>"
	}
	sb.WriteString(fmt.Sprintf("%d. %s %s", n, icon, title))

	if desc := strings.TrimSpace(task.Description); desc != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(desc)))
	}

	sb.WriteByte('\n')
	return sb.String()
}
