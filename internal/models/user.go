package models

import "time"

// User is the persisted record backing a chat identity. The session manager
// loads it on first connection and saves it after each login; everything else
// about presence lives in memory only.
type User struct {
	ID     string `gorm:"primaryKey" json:"id"`
	Nick   string `gorm:"not null" json:"nick"`
	Avatar string `json:"avatar"`
	IsBot  bool   `gorm:"default:false" json:"is_bot"`

	LastLoginAt *time.Time `json:"last_login_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
