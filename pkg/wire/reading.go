// Package wire defines the JSON message exchanged between the device
// simulator and the ingestion worker.
package wire

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Reading is one location report from a device.
type Reading struct {
	DeviceID  string   `json:"device_id"            validate:"required,max=255"`
	Lat       *float64 `json:"lat"                  validate:"omitempty,latitude"`
	Lon       *float64 `json:"lon"                  validate:"omitempty,longitude"`
	Event     *string  `json:"event,omitempty"      validate:"omitempty,max=255"`
	Group     *string  `json:"group,omitempty"      validate:"omitempty,max=255"`
	Timestamp int64    `json:"timestamp"            validate:"gt=0"`
	UserEmail *string  `json:"user_email,omitempty" validate:"omitempty,email"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints on r.
func (r *Reading) Validate() error {
	if err := validatorInstance().Struct(r); err != nil {
		return fmt.Errorf("invalid reading: %w", err)
	}
	return nil
}

// Encode validates r and marshals it to JSON.
func Encode(r *Reading) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// Decode unmarshals and validates a reading.
func Decode(data []byte) (*Reading, error) {
	var r Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode reading: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
