package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sony/gobreaker"

	"tasklist/internal/logging"
	"tasklist/internal/service"
)

const (
	cbCompletePrefix = "complete:"
	cbRefresh        = "refresh"
)

// sender is the part of the Telegram API the bot talks to.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot connects Telegram chats to task lists.
type Bot struct {
	api     *tgbotapi.BotAPI
	out     sender
	breaker *gobreaker.CircuitBreaker
	users   *service.UserService
	tasks   *service.TaskService
	digest  *service.DigestService
	now     func() time.Time
}

func New(token string, users *service.UserService, tasks *service.TaskService, digest *service.DigestService, breaker *gobreaker.CircuitBreaker) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	logging.Logger.Infof("bot authorized on account %s", api.Self.UserName)

	b := newBot(api, users, tasks, digest, breaker)
	b.api = api
	return b, nil
}

func newBot(out sender, users *service.UserService, tasks *service.TaskService, digest *service.DigestService, breaker *gobreaker.CircuitBreaker) *Bot {
	if breaker == nil {
		breaker = NewBreaker("telegram")
	}
	return &Bot{
		out:     out,
		breaker: breaker,
		users:   users,
		tasks:   tasks,
		digest:  digest,
		now:     time.Now,
	}
}

// NewBreaker trips after more than three consecutive failed sends and probes
// again after five seconds.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger.Infof("circuit breaker %s changed from %s to %s", name, from.String(), to.String())
		},
	})
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil {
		return errors.New("bot: polling needs a live API client")
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	logging.Logger.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				logging.Logger.Errorf("handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				logging.Logger.Errorf("handle message: %v", err)
			}
		}
	}

	return ctx.Err()
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil || msg.Chat == nil {
		return nil
	}
	if !msg.IsCommand() {
		return b.sendText(msg.Chat.ID, "I only understand commands. Try /help.")
	}

	logging.Logger.Infof("command from chat=%d: /%s", msg.Chat.ID, msg.Command())
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "link":
		return b.handleLink(ctx, msg)
	case "unlink":
		return b.handleUnlink(ctx, msg)
	case "tasks":
		return b.handleTasks(ctx, msg.Chat.ID)
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf("👋 Hi, %s!\n", html.EscapeString(name))

	user, err := b.users.UserByTelegramChat(ctx, msg.Chat.ID)
	switch {
	case err == nil:
		text += fmt.Sprintf("This chat is linked to <b>%s</b>. Send /tasks to see your list.", html.EscapeString(user.Username))
	case errors.Is(err, service.ErrAuthRequired):
		text += "To connect your task list, request a code with <code>POST /api/telegram-link/</code> and send it here as /link &lt;code&gt;."
	default:
		return err
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"• /link &lt;code&gt; — connect this chat to your account\n" +
		"• /unlink — disconnect this chat\n" +
		"• /tasks — show your list in order\n" +
		"• /help — this message"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleLink(ctx context.Context, msg *tgbotapi.Message) error {
	code := strings.TrimSpace(msg.CommandArguments())
	if code == "" {
		return b.sendText(msg.Chat.ID, "Send the code with the command: /link &lt;code&gt;")
	}
	user, err := b.users.LinkTelegram(ctx, code, msg.Chat.ID)
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		return b.sendText(msg.Chat.ID, "⚠️ "+html.EscapeString(firstMessage(ve)))
	case service.IsNotFound(err):
		return b.sendText(msg.Chat.ID, "⚠️ That account no longer exists.")
	case err != nil:
		return err
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🔗 Linked to <b>%s</b>.", html.EscapeString(user.Username)))
}

func (b *Bot) handleUnlink(ctx context.Context, msg *tgbotapi.Message) error {
	err := b.users.UnlinkTelegram(ctx, msg.Chat.ID)
	if errors.Is(err, service.ErrAuthRequired) {
		return b.sendText(msg.Chat.ID, "This chat is not linked.")
	}
	if err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, "Unlinked. You will no longer receive digests here.")
}

// handleTasks sends the linked user's list with a button per open task.
func (b *Bot) handleTasks(ctx context.Context, chatID int64) error {
	user, err := b.users.UserByTelegramChat(ctx, chatID)
	if errors.Is(err, service.ErrAuthRequired) {
		return b.sendText(chatID, "This chat is not linked yet. Use /link &lt;code&gt; first.")
	}
	if err != nil {
		return err
	}

	text, err := b.digest.Summary(ctx, user)
	if err != nil {
		return err
	}
	list, err := b.tasks.List(ctx, user, "")
	if err != nil {
		return err
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, task := range list.Tasks {
		if task.Complete {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ "+shortTitle(task.Title, 24), cbCompletePrefix+strconv.FormatUint(uint64(task.ID), 10)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", cbRefresh)))

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	return b.send(msg)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	if _, err := b.out.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		logging.Logger.Warnf("callback ack: %v", err)
	}
	chatID := cb.Message.Chat.ID

	switch {
	case strings.HasPrefix(cb.Data, cbCompletePrefix):
		id, err := strconv.ParseUint(strings.TrimPrefix(cb.Data, cbCompletePrefix), 10, 64)
		if err != nil {
			return nil
		}
		user, err := b.users.UserByTelegramChat(ctx, chatID)
		if errors.Is(err, service.ErrAuthRequired) {
			return b.sendText(chatID, "This chat is not linked.")
		}
		if err != nil {
			return err
		}
		done := true
		task, err := b.tasks.UpdateTask(ctx, user, uint(id), service.TaskPatch{Complete: &done})
		if service.IsNotFound(err) {
			return b.sendText(chatID, "That task no longer exists.")
		}
		if err != nil {
			return err
		}
		logging.Logger.Infof("task completed from telegram id=%d chat=%d", task.ID, chatID)
		return b.handleTasks(ctx, chatID)
	case cb.Data == cbRefresh:
		return b.handleTasks(ctx, chatID)
	default:
		return nil
	}
}

// SendDailyDigests sends a digest to every linked user with unfinished tasks.
func (b *Bot) SendDailyDigests(ctx context.Context) error {
	users, err := b.users.ListLinked(ctx)
	if err != nil {
		return err
	}
	now := b.now()
	sent := 0
	for i := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		user := &users[i]
		if user.TelegramChatID == nil {
			continue
		}
		text, ok, err := b.digest.DailyDigest(ctx, user, now)
		if err != nil {
			logging.Logger.Errorf("build digest for user %d: %v", user.ID, err)
			continue
		}
		if !ok {
			continue
		}
		if err := b.sendText(*user.TelegramChatID, text); err != nil {
			logging.Logger.Warnf("send digest to user %d: %v", user.ID, err)
			continue
		}
		sent++
	}
	logging.Logger.Infof("digests sent=%d linked=%d", sent, len(users))
	return nil
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	return b.send(msg)
}

// send goes through the circuit breaker so a Telegram outage fails fast.
func (b *Bot) send(c tgbotapi.Chattable) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return b.out.Send(c)
	})
	return err
}

func firstMessage(ve *service.ValidationError) string {
	for _, msgs := range ve.Fields {
		if len(msgs) > 0 {
			return msgs[0]
		}
	}
	return ve.Error()
}

func shortTitle(title string, maxLen int) string {
	clean := strings.Join(strings.Fields(title), " ")
	if utf8.RuneCountInString(clean) <= maxLen {
		return clean
	}
	runes := []rune(clean)
	return string(runes[:maxLen-1]) + "…"
}

