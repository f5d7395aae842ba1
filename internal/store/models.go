// Package store persists users and location readings in PostgreSQL via GORM.
package store

import (
	"time"
)

// User is an account identified by its lowercase email.
type User struct {
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	LastLogin time.Time `gorm:"not null" json:"last_login"`
	Email     string    `gorm:"uniqueIndex;not null;size:255" json:"email"`
	ID        uint      `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for User.
func (User) TableName() string {
	return "users"
}

// LocationReading is one position report of a device. Only Event and Group
// change after insertion.
type LocationReading struct {
	ID        uint     `gorm:"primaryKey" json:"id"`
	Lat       *float64 `gorm:"column:lat" json:"lat"`
	Lon       *float64 `gorm:"column:lon" json:"lon"`
	Event     *string  `gorm:"column:event;size:255" json:"event"`
	Group     *string  `gorm:"column:group;size:255" json:"group"`
	UserEmail *string  `gorm:"column:user_email;index;size:255" json:"user_email"`
	DeviceID  string   `gorm:"column:device_id;index:idx_device_timestamp;not null;size:255" json:"device_id"`
	Timestamp int64    `gorm:"column:timestamp;index:idx_device_timestamp;not null" json:"timestamp"`
}

// TableName specifies the table name for LocationReading.
func (LocationReading) TableName() string {
	return "iot_data"
}

// LatestReading is the newest positioned reading of one device.
type LatestReading struct {
	ID        uint    `json:"id"`
	Event     *string `json:"event"`
	DeviceID  string  `json:"device_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}
