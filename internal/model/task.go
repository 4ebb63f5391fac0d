package model

import "time"

// Task is a single to-do item. Position ranks it among its owner's tasks.
type Task struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index:idx_task_user_position,priority:1" json:"owner"`
	Title       string    `gorm:"size:200;not null" json:"title"`
	Description string    `json:"description"`
	Complete    bool      `gorm:"not null;default:false" json:"complete"`
	Position    int       `gorm:"not null;default:0;index:idx_task_user_position,priority:2" json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"-"`
}
