package extract

import (
	"fmt"
	"strings"

	"github.com/okian/vitals/internal/domain/model"
)

// Canonical field names. Daily CSV columns use the metric names themselves.
const (
	FieldTimestamp       = "timestamp"
	FieldBPM             = "bpm"
	FieldConfidence      = "confidence"
	FieldSteps           = "steps"
	FieldIBI             = "ibi"
	FieldStage           = "stage"
	FieldDurationSeconds = "duration_seconds"
	FieldDurationMillis  = "duration_millis"
	FieldStartTime       = "start_time"
	FieldDate            = "date"
	FieldLevels          = "levels"
)

// dailyColumns are the metrics a daily CSV may carry, in column lookup order.
var dailyColumns = []model.MetricType{
	model.MetricRestingHeartRate,
	model.MetricHRVRMSSD,
	model.MetricActivityCalories,
	model.MetricActiveZoneMins,
	model.MetricOfficialSleep,
	model.MetricOfficialReady,
}

// Aliases maps a canonical field to the source names accepted for it, in
// preference order.
type Aliases map[string][]string

// DefaultAliases covers the field spellings seen across export vintages.
func DefaultAliases() Aliases {
	return Aliases{
		FieldTimestamp:       {"dateTime", "time", "timestamp", "datetime"},
		FieldBPM:             {"bpm", "value", "heart_rate", "heartRate"},
		FieldConfidence:      {"confidence", "quality"},
		FieldSteps:           {"value", "steps"},
		FieldIBI:             {"ibi", "rr", "interval", "value"},
		FieldStage:           {"level", "stage"},
		FieldDurationSeconds: {"seconds", "duration"},
		FieldDurationMillis:  {"durationMillis", "duration_ms", "duration"},
		FieldStartTime:       {"dateTime", "start", "startTime"},
		FieldDate:            {"date", "dateTime", "dateOfSleep", "timestamp"},
		FieldLevels:          {"levels"},

		string(model.MetricRestingHeartRate): {"resting_heart_rate", "restingHeartRate", "resting_hr"},
		string(model.MetricHRVRMSSD):         {"hrv_rmssd", "rmssd", "daily_rmssd"},
		string(model.MetricActivityCalories): {"activity_calories", "activityCalories"},
		string(model.MetricActiveZoneMins):   {"active_zone_minutes", "activeZoneMinutes", "azm"},
		string(model.MetricOfficialSleep):    {"overall_score", "sleep_score", "official_sleep_score"},
		string(model.MetricOfficialReady):    {"readiness_score", "official_readiness_score", "daily_readiness"},
	}
}

// mergeAliases replaces the default list of every configured field.
func mergeAliases(cfg map[string][]string) (Aliases, error) {
	out := DefaultAliases()
	for field, names := range cfg {
		if _, ok := out[field]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
		}
		if len(names) == 0 {
			continue
		}
		out[field] = append([]string(nil), names...)
	}
	return out, nil
}

// normalize folds case and drops separators so "Resting Heart Rate" matches
// "resting_heart_rate".
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '_', '-', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// lookup returns the first non-null value stored under any alias of field.
func (a Aliases) lookup(rec map[string]any, field string) (any, bool) {
	names := a[field]
	for _, n := range names {
		if v, ok := rec[n]; ok && v != nil {
			return v, true
		}
	}
	for _, n := range names {
		want := normalize(n)
		for k, v := range rec {
			if v != nil && normalize(k) == want {
				return v, true
			}
		}
	}
	return nil, false
}

// column returns the index of the first header matching an alias of field.
func (a Aliases) column(header []string, field string) int {
	for _, n := range a[field] {
		want := normalize(n)
		for i, h := range header {
			if normalize(h) == want {
				return i
			}
		}
	}
	return -1
}
