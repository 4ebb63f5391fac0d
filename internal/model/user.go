package model

import "time"

// User owns tasks and may have a Telegram chat linked for the digest bot.
type User struct {
	ID             uint   `gorm:"primaryKey"`
	Username       string `gorm:"size:150;uniqueIndex;not null"`
	PasswordHash   string `gorm:"not null"`
	TelegramChatID *int64 `gorm:"uniqueIndex"`
	// TelegramLinkID is the id of the one outstanding /link code.
	TelegramLinkID *string `gorm:"size:36"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Tasks          []Task `gorm:"foreignKey:UserID"`
}
