package domain

import "time"

// Account is the local quota record of an account owned by the external
// account service. Only ID and Tier come from outside; ActiveLinks is
// maintained here.
type Account struct {
	ID          int64     `gorm:"primaryKey;column:id;autoIncrement:false" json:"id"`
	Tier        Tier      `gorm:"column:tier;size:16;not null" json:"tier"`
	ActiveLinks int64     `gorm:"column:active_links;not null;default:0" json:"active_links"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName возвращает название таблицы для GORM
func (Account) TableName() string {
	return "accounts"
}
