package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"tasklist/internal/auth"
	"tasklist/internal/logging"
	"tasklist/internal/model"
	"tasklist/internal/repository"
)

const (
	maxUsernameLen = 150
	minPasswordLen = 8
)

// UserService handles accounts, sessions and Telegram links.
type UserService struct {
	userRepo *repository.UserRepository
	tokens   *auth.Tokens
}

func NewUserService(userRepo *repository.UserRepository, tokens *auth.Tokens) *UserService {
	return &UserService{userRepo: userRepo, tokens: tokens}
}

// Register creates an account. password2 must repeat password.
func (s *UserService) Register(ctx context.Context, username, password, password2 string) (*model.User, error) {
	username = strings.TrimSpace(username)
	verr := &ValidationError{}
	switch {
	case username == "":
		verr.Add("username", "This field is required.")
	case utf8.RuneCountInString(username) > maxUsernameLen:
		verr.Add("username", fmt.Sprintf("Ensure this field has no more than %d characters.", maxUsernameLen))
	}
	switch {
	case password == "":
		verr.Add("password1", "This field is required.")
	case utf8.RuneCountInString(password) < minPasswordLen:
		verr.Add("password1", fmt.Sprintf("This password is too short. It must contain at least %d characters.", minPasswordLen))
	case password != password2:
		verr.Add("password2", "The two password fields didn't match.")
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	if _, err := s.userRepo.FindByUsername(ctx, username); err == nil {
		return nil, newValidationError("username", "A user with that username already exists.")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := model.User{Username: username, PasswordHash: hash}
	if err := s.userRepo.Create(ctx, &user); err != nil {
		return nil, err
	}
	logging.Logger.Infof("user registered id=%d", user.ID)
	return &user, nil
}

// Authenticate checks credentials and returns the user.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// IssueSession returns a session token for user.
func (s *UserService) IssueSession(user *model.User) (string, error) {
	return s.tokens.IssueSession(user.ID)
}

// UserFromSession resolves a session token to its user.
func (s *UserService) UserFromSession(ctx context.Context, token string) (*model.User, error) {
	id, err := s.tokens.ParseSession(token)
	if err != nil {
		return nil, ErrAuthRequired
	}
	user, err := s.userRepo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAuthRequired
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

// FormToken returns the token page forms must echo back for user.
func (s *UserService) FormToken(user *model.User) (string, error) {
	if user == nil {
		return "", ErrAuthRequired
	}
	return s.tokens.IssueFormToken(user.ID)
}

// CheckFormToken reports ErrFormToken unless token was issued to user.
func (s *UserService) CheckFormToken(user *model.User, token string) error {
	if user == nil {
		return ErrAuthRequired
	}
	id, err := s.tokens.ParseFormToken(strings.TrimSpace(token))
	if err != nil || id != user.ID {
		return ErrFormToken
	}
	return nil
}

// DeleteAccount removes the user together with every task they own.
func (s *UserService) DeleteAccount(ctx context.Context, user *model.User) error {
	if user == nil {
		return ErrAuthRequired
	}
	if err := s.userRepo.Delete(ctx, user.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Resource: "user", ID: user.ID}
		}
		return err
	}
	logging.Logger.Infof("user deleted id=%d", user.ID)
	return nil
}

// TelegramLinkCode returns a one-time code for the bot's /link command.
// Issuing a code invalidates any earlier code of the same user.
func (s *UserService) TelegramLinkCode(ctx context.Context, user *model.User) (string, error) {
	if user == nil {
		return "", ErrAuthRequired
	}
	code, linkID, err := s.tokens.IssueLinkCode(user.ID)
	if err != nil {
		return "", err
	}
	if err := s.userRepo.SetTelegramLinkID(ctx, user.ID, linkID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrAuthRequired
		}
		return "", err
	}
	return code, nil
}

// LinkTelegram attaches chatID to the user named by code. A code links at
// most one chat.
func (s *UserService) LinkTelegram(ctx context.Context, code string, chatID int64) (*model.User, error) {
	id, linkID, err := s.tokens.ParseLinkCode(strings.TrimSpace(code))
	if err != nil {
		return nil, newValidationError("code", "The link code is invalid or has expired.")
	}
	err = s.userRepo.RedeemTelegramLink(ctx, id, linkID, chatID)
	switch {
	case errors.Is(err, repository.ErrLinkCodeUsed):
		logging.Logger.Warnf("telegram link code reused user=%d chat=%d", id, chatID)
		return nil, newValidationError("code", "The link code has already been used.")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, &NotFoundError{Resource: "user", ID: id}
	case err != nil:
		return nil, err
	}
	logging.Logger.Infof("telegram linked user=%d chat=%d", id, chatID)
	return s.userRepo.FindByID(ctx, id)
}

// UnlinkTelegram detaches chatID from whichever user has it.
func (s *UserService) UnlinkTelegram(ctx context.Context, chatID int64) error {
	user, err := s.UserByTelegramChat(ctx, chatID)
	if err != nil {
		return err
	}
	return s.userRepo.SetTelegramChat(ctx, user.ID, nil)
}

// UserByTelegramChat returns the user linked to chatID or ErrAuthRequired.
func (s *UserService) UserByTelegramChat(ctx context.Context, chatID int64) (*model.User, error) {
	user, err := s.userRepo.FindByTelegramChatID(ctx, chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAuthRequired
	}
	if err != nil {
		return nil, fmt.Errorf("find user by chat: %w", err)
	}
	return user, nil
}

// ListLinked returns users with a Telegram chat attached.
func (s *UserService) ListLinked(ctx context.Context) ([]model.User, error) {
	return s.userRepo.ListLinked(ctx)
}
