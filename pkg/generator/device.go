// Package generator simulates devices that report their position while
// drifting around a centre point.
package generator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/alertnav/pkg/wire"
)

// Events are the labels a simulated device may attach to a reading.
var Events = []string{"Construction", "Blocked Road", "Stop Sign"}

// Groups are the crew names a simulated reading may carry.
var Groups = []string{"north", "south", "east", "west"}

// Device is a simulated vehicle or sensor.
type Device struct {
	DeviceID string `fake:"{uuid}"`
	Driver   string `fake:"{name}"`
	Lat      float64
	Lon      float64
}

// Area bounds the random walk.
type Area struct {
	CenterLat float64
	CenterLon float64
	// RadiusKm is the maximum distance from the centre a device drifts.
	RadiusKm float64
	// StepKm is the largest single move between two readings.
	StepKm float64
}

// DefaultArea centres on Columbus, Ohio.
func DefaultArea() Area {
	return Area{
		CenterLat: 39.9612,
		CenterLon: -82.9988,
		RadiusKm:  5,
		StepKm:    0.2,
	}
}

const kmPerDegreeLat = 111.32

// fill gives a device its fake identity.
var fill = gofakeit.Struct

// NewDevice returns a device with a fake identity placed at a random point in area.
func NewDevice(area Area) (*Device, error) {
	var d Device
	if err := fill(&d); err != nil {
		return nil, fmt.Errorf("failed to fake device identity: %w", err)
	}
	// #nosec G404 - simulation data
	d.Lat, d.Lon = area.offset(area.CenterLat, area.CenterLon, rand.Float64()*area.RadiusKm)
	return &d, nil
}

// offset moves (lat, lon) by distKm in a random direction.
func (a Area) offset(lat, lon, distKm float64) (float64, float64) {
	bearing := rand.Float64() * 2 * math.Pi // #nosec G404
	dLat := distKm * math.Cos(bearing) / kmPerDegreeLat
	dLon := distKm * math.Sin(bearing) / (kmPerDegreeLat * math.Cos(lat*math.Pi/180))
	return lat + dLat, lon + dLon
}

// distanceKm is an equirectangular approximation, good enough at city scale.
func (a Area) distanceKm(lat, lon float64) float64 {
	x := (lon - a.CenterLon) * math.Cos((lat+a.CenterLat)/2*math.Pi/180)
	y := lat - a.CenterLat
	return math.Sqrt(x*x+y*y) * kmPerDegreeLat
}

// Step moves d by up to area.StepKm. A move that would leave the area is
// pulled back towards the centre instead.
func (d *Device) Step(area Area) {
	lat, lon := area.offset(d.Lat, d.Lon, rand.Float64()*area.StepKm) // #nosec G404
	if area.distanceKm(lat, lon) > area.RadiusKm {
		lat = d.Lat + (area.CenterLat-d.Lat)*0.1
		lon = d.Lon + (area.CenterLon-d.Lon)*0.1
	}
	d.Lat, d.Lon = lat, lon
}

// Reading advances the device one step and reports its new position.
// About a third of readings carry an event and a group. owner may be empty.
func (d *Device) Reading(area Area, t time.Time, owner string) *wire.Reading {
	d.Step(area)

	lat := math.Round(d.Lat*1e6) / 1e6
	lon := math.Round(d.Lon*1e6) / 1e6
	r := &wire.Reading{
		DeviceID:  d.DeviceID,
		Lat:       &lat,
		Lon:       &lon,
		Timestamp: t.Unix(),
	}

	if rand.Float64() < 1.0/3 { // #nosec G404
		event := Events[rand.IntN(len(Events))] // #nosec G404
		group := Groups[rand.IntN(len(Groups))] // #nosec G404
		r.Event = &event
		r.Group = &group
	}
	if owner != "" {
		r.UserEmail = &owner
	}
	return r
}
