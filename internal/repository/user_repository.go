package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"tasklist/internal/model"
)

// ErrLinkCodeUsed means the link code was already redeemed or replaced by a
// newer one.
var ErrLinkCodeUsed = errors.New("link code already used")

// UserRepository handles CRUD for users.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByTelegramChatID(ctx context.Context, chatID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("telegram_chat_id = ?", chatID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListLinked returns users that have a Telegram chat attached.
func (r *UserRepository) ListLinked(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Where("telegram_chat_id IS NOT NULL").Order("id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list linked users: %w", err)
	}
	return users, nil
}

// SetTelegramChat attaches chatID to the user, detaching it from any other
// user first. A nil chatID unlinks.
func (r *UserRepository) SetTelegramChat(ctx context.Context, userID uint, chatID *int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if chatID != nil {
			if err := tx.Model(&model.User{}).
				Where("telegram_chat_id = ? AND id <> ?", *chatID, userID).
				Update("telegram_chat_id", nil).Error; err != nil {
				return err
			}
		}
		res := tx.Model(&model.User{}).Where("id = ?", userID).Update("telegram_chat_id", chatID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set telegram chat: %w", err)
	}
	return nil
}

// SetTelegramLinkID records linkID as the user's only redeemable link code.
func (r *UserRepository) SetTelegramLinkID(ctx context.Context, userID uint, linkID string) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Update("telegram_link_id", linkID)
	if res.Error != nil {
		return fmt.Errorf("set telegram link id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RedeemTelegramLink attaches chatID to the user if linkID is the user's
// outstanding code, and clears the code in the same transaction.
func (r *UserRepository) RedeemTelegramLink(ctx context.Context, userID uint, linkID string, chatID int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.User{}).
			Where("telegram_chat_id = ? AND id <> ?", chatID, userID).
			Update("telegram_chat_id", nil).Error; err != nil {
			return err
		}
		res := tx.Model(&model.User{}).
			Where("id = ? AND telegram_link_id = ?", userID, linkID).
			Updates(map[string]interface{}{"telegram_chat_id": chatID, "telegram_link_id": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
		var n int64
		if err := tx.Model(&model.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return gorm.ErrRecordNotFound
		}
		return ErrLinkCodeUsed
	})
	if err != nil {
		return fmt.Errorf("redeem telegram link: %w", err)
	}
	return nil
}

// Delete removes the user and all of their tasks in one transaction.
func (r *UserRepository) Delete(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteByUser(tx, userID); err != nil {
			return err
		}
		res := tx.Delete(&model.User{}, userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
