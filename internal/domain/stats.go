package domain

import "time"

// LinkStats is the analytics view of one link. The breakdowns are only
// filled for tiers with advanced analytics.
type LinkStats struct {
	Code        string          `json:"code"`
	TotalClicks int64           `json:"total_clicks"`
	CreatedAt   time.Time       `json:"created_at"`
	TimeSeries  []TimeBucket    `json:"time_series,omitempty"`
	Locations   []LocationCount `json:"locations,omitempty"`
	Devices     []DeviceCount   `json:"devices,omitempty"`
}

// TimeBucket is the click count of one UTC day, Date formatted YYYY-MM-DD.
type TimeBucket struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// LocationCount is the click count of one country.
type LocationCount struct {
	Country string `json:"country"`
	Count   int64  `json:"count"`
}

// DeviceCount is the click count of one device class.
type DeviceCount struct {
	DeviceType string `json:"device_type"`
	Count      int64  `json:"count"`
}
