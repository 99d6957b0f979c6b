package collector

import (
	"time"

	"github.com/skyrus-io/skyrus/internal/model"
)

// AnomalyCounts summarizes the safety and data-quality signals found in one
// decoded batch.
type AnomalyCounts struct {
	Emergency     int
	Hijack        int
	RadioFail     int
	NullPosition  int
	MaxAgeSeconds int64
}

// Classify scans a decoded batch once. Squawk classification is mutually
// exclusive, first match wins. A record missing either coordinate counts once
// toward NullPosition. Records without a last-contact instant contribute
// nothing to the age maximum.
func Classify(states []model.FlightState, now time.Time) AnomalyCounts {
	var counts AnomalyCounts

	for i := range states {
		f := &states[i]

		if f.Squawk != nil {
			switch *f.Squawk {
			case model.SquawkEmergency:
				counts.Emergency++
			case model.SquawkHijack:
				counts.Hijack++
			case model.SquawkRadioFail:
				counts.RadioFail++
			}
		}

		if !f.HasPosition() {
			counts.NullPosition++
		}

		if f.LastContact != nil {
			age := now.Unix() - f.LastContact.Unix()
			if age > counts.MaxAgeSeconds {
				counts.MaxAgeSeconds = age
			}
		}
	}

	return counts
}
