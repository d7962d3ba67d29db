package extract

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/vitals/internal/domain/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeZip(t *testing.T, p string, members map[string]string) {
	t.Helper()
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func parseOne(t *testing.T, e *Extractor, dir, name, content string) ([]model.RawSample, error) {
	t.Helper()
	p := writeFile(t, dir, name, content)
	fam, ok := e.family(p)
	if !ok {
		t.Fatalf("no family for %s", name)
	}
	return e.Parse(context.Background(), Source{Batch: "A", Family: fam, Path: p, FileDate: fileDate(p)})
}

func TestParseHeartRate(t *testing.T) {
	Convey("Given a heart rate file with nested values and clock-only times", t, func() {
		e := newExtractor(t)
		samples, err := parseOne(t, e, t.TempDir(), "heart_rate-2024-01-15.json", `[
			{"dateTime": "08:00:05", "value": {"bpm": 61, "confidence": 2}},
			{"dateTime": "08:00:10", "value": {"bpm": 62, "confidence": 7}}
		]`)

		Convey("Then both records become samples anchored to the file date", func() {
			So(err, ShouldBeNil)
			So(len(samples), ShouldEqual, 2)
			So(samples[0].Metric, ShouldEqual, model.MetricHeartRate)
			So(samples[0].Value, ShouldEqual, 61.0)
			So(samples[0].HasDate, ShouldBeFalse)
			So(samples[0].FileDate.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(samples[0].Wall.Hour(), ShouldEqual, 8)
			So(samples[0].Batch, ShouldEqual, "A")
		})

		Convey("Then out-of-range confidence is kept and flagged", func() {
			So(samples[1].Quality, ShouldEqual, 7)
			So(samples[1].HasQuality, ShouldBeTrue)
			So(samples[1].Flags.Has(model.FlagQualityOutOfRange), ShouldBeTrue)
			So(samples[0].Flags.Has(model.FlagQualityOutOfRange), ShouldBeFalse)
		})
	})

	Convey("Given a flat heart rate envelope with vendor date-times", t, func() {
		e := newExtractor(t)
		samples, err := parseOne(t, e, t.TempDir(), "heart_rate-2024-01-15.json",
			`{"value": [{"time": "01/15/24 23:59:59", "bpm": "58", "confidence": 3}]}`)

		Convey("Then the record is read with its full date", func() {
			So(err, ShouldBeNil)
			So(len(samples), ShouldEqual, 1)
			So(samples[0].HasDate, ShouldBeTrue)
			So(samples[0].Wall.Equal(time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC)), ShouldBeTrue)
			So(samples[0].Value, ShouldEqual, 58.0)
		})
	})

	Convey("Given a heart rate file where one record has no bpm", t, func() {
		e := newExtractor(t)
		samples, err := parseOne(t, e, t.TempDir(), "heart_rate-2024-01-16.json", `[
			{"dateTime": "2024-01-16T08:00:00", "value": {"bpm": 60}},
			{"dateTime": "2024-01-16T08:00:05", "value": {"confidence": 1}}
		]`)

		Convey("Then the whole file is malformed", func() {
			So(samples, ShouldBeEmpty)
			So(errors.Is(err, model.ErrMalformedFile), ShouldBeTrue)
			So(errors.Is(err, ErrMissingField), ShouldBeTrue)
		})
	})

	Convey("Given a file with an unknown layout", t, func() {
		e := newExtractor(t)
		_, err := parseOne(t, e, t.TempDir(), "heart_rate-2024-01-17.json", `{"foo": 1}`)

		Convey("Then it is rejected as an unknown shape", func() {
			So(errors.Is(err, ErrUnknownShape), ShouldBeTrue)
			So(errors.Is(err, model.ErrMalformedFile), ShouldBeTrue)
		})
	})

	Convey("Given an empty file", t, func() {
		e := newExtractor(t)
		_, err := parseOne(t, e, t.TempDir(), "steps-2024-01-17.json", ``)

		Convey("Then it is malformed", func() {
			So(errors.Is(err, model.ErrMalformedFile), ShouldBeTrue)
		})
	})
}

func TestParseSteps(t *testing.T) {
	Convey("Given a steps envelope with string values and an absolute timestamp", t, func() {
		e := newExtractor(t)
		samples, err := parseOne(t, e, t.TempDir(), "steps-2024-01-15.json", `{"value": [
			{"dateTime": "2024-01-15T08:00:00", "value": "12"},
			{"dateTime": "2024-01-15T08:01:00Z", "value": 30}
		]}`)

		Convey("Then values are coerced and the offset is honored", func() {
			So(err, ShouldBeNil)
			So(len(samples), ShouldEqual, 2)
			So(samples[0].Value, ShouldEqual, 12.0)
			So(samples[0].Absolute, ShouldBeFalse)
			So(samples[1].Value, ShouldEqual, 30.0)
			So(samples[1].Absolute, ShouldBeTrue)
		})
	})
}

func TestParseSleep(t *testing.T) {
	Convey("Given a staged sleep log", t, func() {
		e := newExtractor(t)
		samples, err := parseOne(t, e, t.TempDir(), "sleep-2024-01-15.json", `{"levels": {"data": [
			{"dateTime": "2024-01-14T23:30:00.000", "level": "light", "seconds": 90},
			{"dateTime": "2024-01-14T23:31:30.000", "level": "DEEP", "seconds": 60}
		]}}`)

		Convey("Then each event expands into 30 second epochs", func() {
			So(err, ShouldBeNil)
			So(len(samples), ShouldEqual, 5)
			So(samples[0].Value, ShouldEqual, float64(model.StageLight))
			So(samples[2].Elapsed, ShouldEqual, time.Minute)
			So(samples[3].Value, ShouldEqual, float64(model.StageDeep))
			So(samples[3].Elapsed, ShouldEqual, time.Duration(0))
			So(samples[4].Elapsed, ShouldEqual, 30*time.Second)
			for _, s := range samples {
				So(s.Metric, ShouldEqual, model.MetricSleepStage)
			}
		})
	})

	Convey("Given classic sleep sessions without stages", t, func() {
		e := newExtractor(t)
		samples, err := parseOne(t, e, t.TempDir(), "sleep-2024-01-15.json",
			`{"sleep": [{"startTime": "2024-01-14T23:00:00", "durationMillis": 60000}]}`)

		Convey("Then the session becomes unstaged asleep epochs", func() {
			So(err, ShouldBeNil)
			So(len(samples), ShouldEqual, 2)
			So(samples[1].Value, ShouldEqual, float64(model.StageAsleep))
		})
	})

	Convey("Given an array of staged sessions", t, func() {
		e := newExtractor(t)
		samples, err := parseOne(t, e, t.TempDir(), "sleep-2024-01-15.json", `[
			{"startTime": "2024-01-14T23:00:00", "duration": 60000,
			 "levels": {"data": [{"dateTime": "2024-01-14T23:00:00", "level": "rem", "seconds": 30}]}}
		]`)

		Convey("Then the embedded stage log wins over the session duration", func() {
			So(err, ShouldBeNil)
			So(len(samples), ShouldEqual, 1)
			So(samples[0].Value, ShouldEqual, float64(model.StageREM))
		})
	})

	Convey("Given a stage event with an unknown label", t, func() {
		e := newExtractor(t)
		_, err := parseOne(t, e, t.TempDir(), "sleep-2024-01-15.json",
			`{"levels": {"data": [{"dateTime": "2024-01-14T23:00:00", "level": "dreaming", "seconds": 30}]}}`)

		Convey("Then the file is malformed", func() {
			So(errors.Is(err, ErrBadValue), ShouldBeTrue)
		})
	})
}

func TestParseDailyCSV(t *testing.T) {
	Convey("Given a daily summary with vendor column names", t, func() {
		e := newExtractor(t)
		samples, err := parseOne(t, e, t.TempDir(), "Daily Activity Summary.csv",
			"Date,Resting Heart Rate,RMSSD,Activity Calories,Notes\n"+
				"2024-01-15,55,42.5,800,x\n"+
				"01/16/2024,54,,810,\n")

		Convey("Then every known non-empty cell becomes a midnight sample", func() {
			So(err, ShouldBeNil)
			So(len(samples), ShouldEqual, 5)
			So(samples[0].Metric, ShouldEqual, model.MetricRestingHeartRate)
			So(samples[0].Value, ShouldEqual, 55.0)
			So(samples[0].Wall.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(samples[1].Metric, ShouldEqual, model.MetricHRVRMSSD)
			So(samples[2].Metric, ShouldEqual, model.MetricActivityCalories)
			So(samples[3].Wall.Day(), ShouldEqual, 16)
		})
	})

	Convey("Given a CSV without a date column", t, func() {
		e := newExtractor(t)
		_, err := parseOne(t, e, t.TempDir(), "daily.csv", "Resting Heart Rate\n55\n")

		Convey("Then it is malformed", func() {
			So(errors.Is(err, ErrMissingField), ShouldBeTrue)
		})
	})

	Convey("Given a sleep score export", t, func() {
		e := newExtractor(t)
		samples, err := parseOne(t, e, t.TempDir(), "Sleep Score.csv",
			"sleep_log_entry_id,timestamp,overall_score\n1,2024-01-15T07:10:00Z,81\n")

		Convey("Then the vendor score is kept as a reference series", func() {
			So(err, ShouldBeNil)
			So(len(samples), ShouldEqual, 1)
			So(samples[0].Metric, ShouldEqual, model.MetricOfficialSleep)
			So(samples[0].Absolute, ShouldBeTrue)
		})
	})
}

func TestAliasOverride(t *testing.T) {
	Convey("Given an extractor with a custom bpm alias", t, func() {
		e, err := New(nil, map[string][]string{FieldBPM: {"pulse"}})
		So(err, ShouldBeNil)
		samples, err := parseOne(t, e, t.TempDir(), "heart_rate-2024-01-15.json",
			`[{"time": "2024-01-15T10:00:00", "pulse": 70}]`)

		Convey("Then the renamed field is read", func() {
			So(err, ShouldBeNil)
			So(len(samples), ShouldEqual, 1)
			So(samples[0].Value, ShouldEqual, 70.0)
		})
	})

	Convey("Given aliases for an unknown field", t, func() {
		_, err := New(nil, map[string][]string{"mood": {"m"}})

		Convey("Then construction fails", func() {
			So(errors.Is(err, ErrUnknownField), ShouldBeTrue)
		})
	})

	Convey("Given a pattern for an unknown family", t, func() {
		_, err := New(map[string]string{"weight": "weight-*.json"}, nil)

		Convey("Then construction fails", func() {
			So(errors.Is(err, ErrInvalidPattern), ShouldBeTrue)
		})
	})
}

func TestDiscover(t *testing.T) {
	Convey("Given a batch directory with plain files and a nested archive", t, func() {
		dir := t.TempDir()
		writeFile(t, dir, "Physical Activity/heart_rate-2024-01-15.json", `[]`)
		writeFile(t, dir, "Physical Activity/steps-2024-01-15.json", `[]`)
		writeFile(t, dir, "notes.txt", "ignore me")
		writeZip(t, filepath.Join(dir, "older.zip"), map[string]string{
			"export/Sleep/sleep-2024-01-14.json": `{"sleep": []}`,
			"export/readme.md":                   "ignore",
		})
		writeFile(t, dir, "broken.zip", "not a zip")

		e := newExtractor(t)
		sources, failures, err := e.Discover(context.Background(), model.Batch{ID: "A", Path: dir})

		Convey("Then matching files and members are listed in path order", func() {
			So(err, ShouldBeNil)
			So(len(sources), ShouldEqual, 3)
			var fams []Family
			for _, s := range sources {
				fams = append(fams, s.Family)
				So(s.Batch, ShouldEqual, "A")
			}
			So(fams, ShouldContain, FamilySleep)
			So(fams, ShouldContain, FamilyHeartRate)
			So(fams, ShouldContain, FamilySteps)
		})

		Convey("Then archive members carry their archive and file date", func() {
			var member Source
			for _, s := range sources {
				if s.Archive != "" {
					member = s
				}
			}
			So(member.Member, ShouldEqual, "export/Sleep/sleep-2024-01-14.json")
			So(strings.Contains(member.Path, "older.zip!"), ShouldBeTrue)
			So(member.FileDate.Day(), ShouldEqual, 14)

			samples, err := e.Parse(context.Background(), member)
			So(err, ShouldBeNil)
			So(samples, ShouldBeEmpty)
		})

		Convey("Then the broken archive is a failure, not an error", func() {
			So(len(failures), ShouldEqual, 1)
			So(failures[0].Kind, ShouldEqual, model.FailureUnreadable)
			So(failures[0].Path, ShouldEndWith, "broken.zip")
		})
	})

	Convey("Given a batch that is a single zip archive", t, func() {
		p := filepath.Join(t.TempDir(), "export.zip")
		writeZip(t, p, map[string]string{
			"heart_rate-2024-02-01.json": `[{"dateTime": "2024-02-01T00:00:00", "bpm": 50}]`,
		})
		e := newExtractor(t)
		sources, _, err := e.Discover(context.Background(), model.Batch{ID: "B", Path: p})

		Convey("Then its members are sources", func() {
			So(err, ShouldBeNil)
			So(len(sources), ShouldEqual, 1)
			samples, err := e.Parse(context.Background(), sources[0])
			So(err, ShouldBeNil)
			So(len(samples), ShouldEqual, 1)
			So(samples[0].Source, ShouldEqual, sources[0].Path)
		})
	})

	Convey("Given a missing batch path", t, func() {
		e := newExtractor(t)
		_, _, err := e.Discover(context.Background(), model.Batch{ID: "C", Path: filepath.Join(t.TempDir(), "nope")})

		Convey("Then discovery fails", func() {
			So(errors.Is(err, ErrUnreadableSource), ShouldBeTrue)
		})
	})
}

func TestSamples(t *testing.T) {
	Convey("Given a batch with one good and one malformed file", t, func() {
		dir := t.TempDir()
		writeFile(t, dir, "heart_rate-2024-01-15.json", `[{"dateTime": "2024-01-15T08:00:00", "bpm": 60}]`)
		writeFile(t, dir, "steps-2024-01-15.json", `{"value": [{"value": 3}]}`)
		e := newExtractor(t)
		b := model.Batch{ID: "A", Path: dir}

		Convey("When the sequence is consumed", func() {
			var good, bad int
			for rec := range e.Samples(context.Background(), b) {
				if rec.Failure != nil {
					bad++
					So(rec.Failure.Kind, ShouldEqual, model.FailureMalformedFile)
					So(rec.Samples, ShouldBeEmpty)
					continue
				}
				good += len(rec.Samples)
			}

			Convey("Then the malformed file does not stop the batch", func() {
				So(good, ShouldEqual, 1)
				So(bad, ShouldEqual, 1)
			})
		})

		Convey("When the consumer stops early", func() {
			n := 0
			for range e.Samples(context.Background(), b) {
				n++
				break
			}

			Convey("Then iteration ends", func() {
				So(n, ShouldEqual, 1)
			})
		})
	})
}

func TestParseStamp(t *testing.T) {
	Convey("Given the accepted timestamp spellings", t, func() {
		cases := []struct {
			in       string
			hasDate  bool
			absolute bool
		}{
			{"2024-01-15T08:00:00+01:00", true, true},
			{"2024-01-15T08:00:00.123", true, false},
			{"2024-01-15 08:00:00", true, false},
			{"01/15/24 08:00:00", true, false},
			{"2024-01-15", true, false},
			{"08:00:00", false, false},
			{"08:00", false, false},
		}
		for _, c := range cases {
			st, err := parseStamp(c.in)
			So(err, ShouldBeNil)
			So(st.hasDate, ShouldEqual, c.hasDate)
			So(st.absolute, ShouldEqual, c.absolute)
		}

		_, err := parseStamp("yesterday")
		So(errors.Is(err, ErrBadValue), ShouldBeTrue)
		_, err = parseStamp(42)
		So(errors.Is(err, ErrBadValue), ShouldBeTrue)
	})
}

func TestFingerprint(t *testing.T) {
	Convey("Fingerprints ignore source order and track names, sizes and content", t, func() {
		a := Source{Path: "b1/heart_rate-2024-01-01.json", Size: 100, Checksum: 7}
		b := Source{Path: "b1/steps-2024-01-01.json", Size: 50, Checksum: 9}

		fp := Fingerprint([]Source{a, b})
		So(fp, ShouldEqual, Fingerprint([]Source{b, a}))

		grown := b
		grown.Size = 51
		So(Fingerprint([]Source{a, grown}), ShouldNotEqual, fp)

		edited := b
		edited.Checksum = 10
		So(Fingerprint([]Source{a, edited}), ShouldNotEqual, fp)
		So(Fingerprint(nil), ShouldNotEqual, fp)
	})
}

func TestDiscoverChecksums(t *testing.T) {
	Convey("Given a batch with a plain file and a zip member", t, func() {
		e := newExtractor(t)
		dir := t.TempDir()
		writeFile(t, dir, "heart_rate-2024-01-15.json", `[{"dateTime": "08:00:00", "value": {"bpm": 61}}]`)
		writeZip(t, filepath.Join(dir, "more.zip"), map[string]string{"steps-2024-01-15.json": `[{"dateTime": "08:00:00", "value": 10}]`})
		b := model.Batch{ID: "A", Path: dir}

		before, _, err := e.Discover(context.Background(), b)
		So(err, ShouldBeNil)
		So(len(before), ShouldEqual, 2)
		for _, s := range before {
			So(s.Checksum, ShouldNotEqual, uint64(0))
		}

		Convey("When both are rewritten with new content of the same size", func() {
			writeFile(t, dir, "heart_rate-2024-01-15.json", `[{"dateTime": "08:00:00", "value": {"bpm": 62}}]`)
			writeZip(t, filepath.Join(dir, "more.zip"), map[string]string{"steps-2024-01-15.json": `[{"dateTime": "08:00:00", "value": 11}]`})

			after, _, err := e.Discover(context.Background(), b)
			So(err, ShouldBeNil)

			Convey("Then sizes match but checksums and the fingerprint differ", func() {
				So(len(after), ShouldEqual, 2)
				for i := range after {
					So(after[i].Size, ShouldEqual, before[i].Size)
					So(after[i].Checksum, ShouldNotEqual, before[i].Checksum)
				}
				So(Fingerprint(after), ShouldNotEqual, Fingerprint(before))
			})
		})
	})
}
