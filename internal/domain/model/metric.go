// Package model contains domain models passed between layers.
package model

import "fmt"

// MetricType names one canonical time series.
type MetricType string

// Known metric types. The value domain noted for each drives the store's
// column codec choice; values outside it are still stored losslessly.
const (
	MetricHeartRate        MetricType = "heart_rate"          // bpm, 0..255
	MetricSteps            MetricType = "steps"               // count per interval, 0..65535
	MetricSleepStage       MetricType = "sleep_stage"         // SleepStage code per 30s epoch
	MetricIBI              MetricType = "ibi"                 // interbeat interval in ms
	MetricHRVRMSSD         MetricType = "hrv_rmssd"           // daily RMSSD in ms
	MetricRestingHeartRate MetricType = "resting_heart_rate"  // daily bpm
	MetricActivityCalories MetricType = "activity_calories"   // daily kcal
	MetricActiveZoneMins   MetricType = "active_zone_minutes" // daily minutes
	MetricOfficialSleep    MetricType = "official_sleep_score"
	MetricOfficialReady    MetricType = "official_readiness_score"
)

// AllMetrics lists every metric type in a stable order.
var AllMetrics = []MetricType{
	MetricHeartRate,
	MetricSteps,
	MetricSleepStage,
	MetricIBI,
	MetricHRVRMSSD,
	MetricRestingHeartRate,
	MetricActivityCalories,
	MetricActiveZoneMins,
	MetricOfficialSleep,
	MetricOfficialReady,
}

// ValueDomain describes the known value range of a metric.
type ValueDomain int

const (
	DomainFloat  ValueDomain = iota // arbitrary float64
	DomainUint8                     // integers 0..255
	DomainUint16                    // integers 0..65535
)

// Domain returns the known value domain of the metric.
func (m MetricType) Domain() ValueDomain {
	switch m {
	case MetricHeartRate, MetricSleepStage, MetricRestingHeartRate:
		return DomainUint8
	case MetricSteps, MetricIBI, MetricActiveZoneMins:
		return DomainUint16
	default:
		return DomainFloat
	}
}

// Valid reports whether m is a known metric type.
func (m MetricType) Valid() bool {
	for _, k := range AllMetrics {
		if k == m {
			return true
		}
	}
	return false
}

// ParseMetric converts a name into a MetricType.
func ParseMetric(name string) (MetricType, error) {
	m := MetricType(name)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	return m, nil
}

// SleepStage is the per-epoch sleep stage code stored in MetricSleepStage.
type SleepStage uint8

const (
	StageWake   SleepStage = 0
	StageLight  SleepStage = 1
	StageDeep   SleepStage = 2
	StageREM    SleepStage = 3
	StageAsleep SleepStage = 4 // asleep, stage unknown
)

// SleepEpochSeconds is the resolution sleep stage logs are expanded to.
const SleepEpochSeconds = 30

// Asleep reports whether the stage counts toward total sleep.
func (s SleepStage) Asleep() bool {
	return s == StageLight || s == StageDeep || s == StageREM || s == StageAsleep
}

// ParseSleepStage maps vendor stage labels onto stage codes.
func ParseSleepStage(label string) (SleepStage, bool) {
	switch label {
	case "wake", "awake", "restless":
		return StageWake, true
	case "light":
		return StageLight, true
	case "deep":
		return StageDeep, true
	case "rem":
		return StageREM, true
	case "asleep", "":
		return StageAsleep, true
	}
	return 0, false
}
