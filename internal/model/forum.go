package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is a member's role within a forum.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Featured is the forum's highlighted book and quote.
type Featured struct {
	Book  string `json:"book,omitempty" gorm:"size:255"`
	Quote string `json:"quote,omitempty" gorm:"type:text"`
}

// Forum is a reading group. Members is authoritative for roles.
type Forum struct {
	ID           uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Name         string    `json:"name" gorm:"size:255;not null"`
	Location     string    `json:"location" gorm:"size:255;not null"`
	Description  string    `json:"description,omitempty" gorm:"type:text"`
	ExternalLink string    `json:"external_link,omitempty" gorm:"size:512"`
	InviteCode   string    `json:"invite_code" gorm:"size:64;not null;uniqueIndex"`
	Featured     Featured  `json:"featured" gorm:"embedded;embeddedPrefix:featured_"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Relations
	Members     []ForumMember `json:"-" gorm:"foreignKey:ForumID"`
	HiddenBooks []HiddenBook  `json:"-" gorm:"foreignKey:ForumID"`
}

// BeforeCreate sets UUID before creating the record.
func (f *Forum) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// ForumMember is the forum side of a membership edge.
type ForumMember struct {
	ForumID  uuid.UUID `json:"forum_id" gorm:"type:char(36);primaryKey"`
	UserID   uuid.UUID `json:"user_id" gorm:"type:char(36);primaryKey;index"`
	Role     Role      `json:"role" gorm:"type:varchar(10);not null;default:'member'"`
	JoinedAt time.Time `json:"joined_at" gorm:"not null"`
}

// UserForum is the user side of a membership edge, kept for "my forums" reads.
// It is written only together with ForumMember.
type UserForum struct {
	UserID   uuid.UUID `json:"user_id" gorm:"type:char(36);primaryKey"`
	ForumID  uuid.UUID `json:"forum_id" gorm:"type:char(36);primaryKey;index"`
	Role     Role      `json:"role" gorm:"type:varchar(10);not null;default:'member'"`
	JoinedAt time.Time `json:"joined_at" gorm:"not null"`
}

// HiddenBook excludes a catalog item from a forum's aggregated view.
type HiddenBook struct {
	ForumID  uuid.UUID `json:"forum_id" gorm:"type:char(36);primaryKey"`
	BookID   uuid.UUID `json:"book_id" gorm:"type:char(36);primaryKey;index"`
	HiddenAt time.Time `json:"hidden_at" gorm:"not null"`
}

// All lists every model for migrations, parents first.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Book{},
		&Forum{},
		&OwnedBook{},
		&ForumMember{},
		&UserForum{},
		&HiddenBook{},
	}
}
