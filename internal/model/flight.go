package model

import "time"

// Emergency transponder codes. A flight broadcasting one of these is in a
// declared abnormal condition; classification is mutually exclusive.
const (
	SquawkEmergency = "7700"
	SquawkHijack    = "7500"
	SquawkRadioFail = "7600"
)

// Flight status derived from the decoded record.
const (
	StatusAirborne  = "airborne"
	StatusOnGround  = "on_ground"
	StatusEmergency = "emergency"
)

// FlightState is the latest known state of one tracked aircraft, keyed by its
// ICAO 24-bit hex address. Optional fields are pointers: the upstream reports
// them independently and any of them may be absent in a given frame.
type FlightState struct {
	ICAO24        string     `json:"icao24"`
	Callsign      *string    `json:"callsign"`
	OriginCountry *string    `json:"origin_country"`
	LastContact   *time.Time `json:"last_contact"`
	Longitude     *float64   `json:"longitude"`
	Latitude      *float64   `json:"latitude"`
	Velocity      *float64   `json:"velocity"`
	Altitude      *float64   `json:"altitude"`
	OnGround      bool       `json:"on_ground"`
	Squawk        *string    `json:"squawk"`
	Status        string     `json:"status"`
}

// EmergencySquawk reports whether the squawk is one of the three emergency
// codes.
func (f *FlightState) EmergencySquawk() bool {
	if f.Squawk == nil {
		return false
	}
	switch *f.Squawk {
	case SquawkEmergency, SquawkHijack, SquawkRadioFail:
		return true
	}
	return false
}

// HasPosition reports whether both coordinates are present.
func (f *FlightState) HasPosition() bool {
	return f.Latitude != nil && f.Longitude != nil
}
