package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an account. It owns a set of catalog references and mirrors its forum memberships.
type User struct {
	ID           uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Name         string    `json:"name" gorm:"size:50;not null"`
	Email        string    `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"` // Never expose in JSON
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Relations
	OwnedBooks   []OwnedBook `json:"-" gorm:"foreignKey:UserID"`
	JoinedForums []UserForum `json:"-" gorm:"foreignKey:UserID"`
}

// BeforeCreate sets UUID before creating the record.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// OwnedBook is one entry of a user's ordered owned set. AddedAt gives the order.
type OwnedBook struct {
	UserID  uuid.UUID `json:"user_id" gorm:"type:char(36);primaryKey"`
	BookID  uuid.UUID `json:"book_id" gorm:"type:char(36);primaryKey;index"`
	AddedAt time.Time `json:"added_at" gorm:"not null"`

	Book Book `json:"-" gorm:"foreignKey:BookID"`
}
