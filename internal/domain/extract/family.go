package extract

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

// Family groups export files that share a layout and a default glob.
type Family string

const (
	FamilyHeartRate  Family = "heart_rate"
	FamilySteps      Family = "steps"
	FamilySleep      Family = "sleep"
	FamilyIBI        Family = "ibi"
	FamilyDaily      Family = "daily_summary"
	FamilySleepScore Family = "sleep_score"
)

// Families lists the families in match priority order.
var Families = []Family{FamilyHeartRate, FamilySteps, FamilySleep, FamilyIBI, FamilyDaily, FamilySleepScore}

// DefaultPatterns are the base-name globs used when none are configured.
func DefaultPatterns() map[Family]string {
	return map[Family]string{
		FamilyHeartRate:  "heart_rate-*.json",
		FamilySteps:      "steps-*.json",
		FamilySleep:      "sleep-*.json",
		FamilyIBI:        "ibi-*.json",
		FamilyDaily:      "*[Dd]aily*.csv",
		FamilySleepScore: "*[Ss]leep*[Ss]core*.csv",
	}
}

// tabular families are parsed as CSV.
func (f Family) tabular() bool { return f == FamilyDaily || f == FamilySleepScore }

func validFamily(name string) bool {
	for _, f := range Families {
		if string(f) == name {
			return true
		}
	}
	return false
}

// mergePatterns overlays configured globs on the defaults.
func mergePatterns(cfg map[string]string) (map[Family]string, error) {
	out := DefaultPatterns()
	for name, glob := range cfg {
		if !validFamily(name) {
			return nil, fmt.Errorf("%w: unknown family %q", ErrInvalidPattern, name)
		}
		if _, err := filepath.Match(glob, ""); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPattern, name, err)
		}
		out[Family(name)] = glob
	}
	return out, nil
}

var embeddedDate = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// fileDate returns the first YYYY-MM-DD found in name, or the zero time.
func fileDate(name string) time.Time {
	for _, m := range embeddedDate.FindAllString(filepath.Base(name), -1) {
		if d, err := time.Parse(time.DateOnly, m); err == nil {
			return d
		}
	}
	return time.Time{}
}
