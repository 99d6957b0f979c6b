package opensky

import (
	"math"
	"strings"
	"time"

	"github.com/skyrus-io/skyrus/internal/model"
)

// Positions of the fields of interest within an OpenSky state vector.
const (
	fieldICAO24        = 0
	fieldCallsign      = 1
	fieldOriginCountry = 2
	fieldLastContact   = 3
	fieldLongitude     = 5
	fieldLatitude      = 6
	fieldVelocity      = 9
	fieldAltitude      = 13
	fieldOnGround      = 14
	fieldSquawk        = 17
)

// Decode converts one raw state vector into a FlightState. It is total:
// missing, short, or mistyped fields resolve to nil/default values, never to
// an error. A record whose identity comes out empty is unusable and must be
// dropped by the caller (see DecodeAll).
func Decode(raw []any) model.FlightState {
	state := model.FlightState{
		ICAO24:        normalizeICAO(stringAt(raw, fieldICAO24)),
		Callsign:      stringAt(raw, fieldCallsign),
		OriginCountry: stringAt(raw, fieldOriginCountry),
		Longitude:     floatAt(raw, fieldLongitude),
		Latitude:      floatAt(raw, fieldLatitude),
		Velocity:      floatAt(raw, fieldVelocity),
		Altitude:      floatAt(raw, fieldAltitude),
		OnGround:      boolAt(raw, fieldOnGround),
		Squawk:        squawkAt(raw, fieldSquawk),
	}

	if ts := floatAt(raw, fieldLastContact); ts != nil {
		t := time.Unix(int64(*ts), 0).UTC()
		state.LastContact = &t
	}

	state.Status = deriveStatus(&state)
	return state
}

// DecodeAll decodes a batch of raw state vectors and filters out records with
// an empty identity, returning the number dropped. The filter is a
// correctness requirement: empty identities would collide on the persistence
// key.
func DecodeAll(raw [][]any) (states []model.FlightState, dropped int) {
	states = make([]model.FlightState, 0, len(raw))
	for _, row := range raw {
		state := Decode(row)
		if state.ICAO24 == "" {
			dropped++
			continue
		}
		states = append(states, state)
	}
	return states, dropped
}

func deriveStatus(f *model.FlightState) string {
	if f.EmergencySquawk() {
		return model.StatusEmergency
	}
	if f.OnGround {
		return model.StatusOnGround
	}
	return model.StatusAirborne
}

// normalizeICAO trims and lower-cases the 24-bit hex identity.
func normalizeICAO(s *string) string {
	if s == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*s))
}

func stringAt(raw []any, idx int) *string {
	if idx >= len(raw) {
		return nil
	}
	s, ok := raw[idx].(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func floatAt(raw []any, idx int) *float64 {
	if idx >= len(raw) {
		return nil
	}
	var f float64
	switch v := raw[idx].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// boolAt coerces the on-ground flag. The upstream has been observed to report
// it as a boolean, a number, or a string; anything unrecognized means false.
func boolAt(raw []any, idx int) bool {
	if idx >= len(raw) {
		return false
	}
	switch v := raw[idx].(type) {
	case bool:
		return v
	case float64:
		return v == 1
	case int:
		return v == 1
	case string:
		return strings.EqualFold(v, "true") || v == "1"
	default:
		return false
	}
}

// squawkAt keeps the transponder code as a string so leading zeros survive.
func squawkAt(raw []any, idx int) *string {
	s := stringAt(raw, idx)
	if s != nil {
		return s
	}
	// Some feeds deliver the code numerically.
	if f := floatAt(raw, idx); f != nil {
		code := formatSquawk(*f)
		return &code
	}
	return nil
}

func formatSquawk(f float64) string {
	digits := [4]byte{'0', '0', '0', '0'}
	n := int(f)
	for i := 3; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[:])
}
