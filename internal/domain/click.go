package domain

import "time"

// Device classes derived from the user agent.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// Click is one recorded redirect. ID is assigned when the redirect is
// dispatched and doubles as the deduplication key for redelivered events.
type Click struct {
	ID         string    `gorm:"primaryKey;column:id;size:36" json:"id"`
	LinkID     int64     `gorm:"column:link_id;not null;index" json:"link_id"`
	Code       string    `gorm:"column:code;size:64;not null" json:"code"`
	IPAddress  *string   `gorm:"column:ip_address;size:45" json:"ip_address,omitempty"`
	UserAgent  *string   `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`
	Referer    *string   `gorm:"column:referer;size:500" json:"referer,omitempty"`
	Country    *string   `gorm:"column:country;size:2" json:"country,omitempty"` // ISO код страны
	City       *string   `gorm:"column:city;size:100" json:"city,omitempty"`
	DeviceType string    `gorm:"column:device_type;size:10;not null" json:"device_type"`
	Browser    *string   `gorm:"column:browser;size:50" json:"browser,omitempty"`
	OS         *string   `gorm:"column:os;size:50" json:"os,omitempty"`
	ClickedAt  time.Time `gorm:"column:clicked_at;not null;index" json:"clicked_at"`
}

// TableName возвращает название таблицы для GORM
func (Click) TableName() string {
	return "clicks"
}
