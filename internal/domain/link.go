package domain

import (
	"time"

	"gorm.io/gorm"
)

// Link maps a short code to its destination.
type Link struct {
	ID          int64          `gorm:"primaryKey;column:id" json:"-"`
	Code        string         `gorm:"column:code;size:64;uniqueIndex;not null" json:"code"`
	OriginalURL string         `gorm:"column:original_url;type:text;not null" json:"original_url"`
	OwnerID     int64          `gorm:"column:owner_id;not null;index" json:"owner_id"`
	Tier        Tier           `gorm:"column:tier;size:16;not null" json:"tier"`
	IsCustom    bool           `gorm:"column:is_custom;not null" json:"is_custom"`
	Title       *string        `gorm:"column:title;size:255" json:"title,omitempty"`
	Description *string        `gorm:"column:description;type:text" json:"description,omitempty"`
	Favicon     *string        `gorm:"column:favicon;size:2048" json:"favicon,omitempty"`
	ClickCount  int64          `gorm:"column:click_count;not null;default:0" json:"clicks"`
	IsActive    bool           `gorm:"column:is_active;not null;index" json:"is_active"`
	ExpiresAt   *time.Time     `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`

	Tags []LinkTag `gorm:"foreignKey:LinkID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName возвращает название таблицы для GORM
func (Link) TableName() string {
	return "links"
}

// IsExpired reports whether the expiry timestamp has passed at now.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Resolvable reports whether a redirect may be served for the link.
func (l *Link) Resolvable(now time.Time) bool {
	return l.IsActive && !l.IsExpired(now)
}

// TagNames returns the tag names in stored order.
func (l *Link) TagNames() []string {
	names := make([]string, 0, len(l.Tags))
	for _, t := range l.Tags {
		names = append(names, t.Name)
	}
	return names
}

// LinkTag is a free-form label attached to a link.
type LinkTag struct {
	ID     int64  `gorm:"primaryKey;column:id" json:"-"`
	LinkID int64  `gorm:"column:link_id;not null;uniqueIndex:idx_link_tags_link_name" json:"-"`
	Name   string `gorm:"column:name;size:50;not null;uniqueIndex:idx_link_tags_link_name;index" json:"name"`
}

// TableName возвращает название таблицы для GORM
func (LinkTag) TableName() string {
	return "link_tags"
}

// Metadata is the preview data fetched for a destination. Nil fields are unknown.
type Metadata struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Favicon     *string `json:"favicon,omitempty"`
}

// IsEmpty reports whether no field was fetched.
func (m Metadata) IsEmpty() bool {
	return m.Title == nil && m.Description == nil && m.Favicon == nil
}
