package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/okian/vitals/internal/domain/model"
)

// fileParser turns one decoded file into raw samples.
type fileParser struct {
	src     Source
	aliases Aliases
	out     []model.RawSample
}

func (p *fileParser) emit(metric model.MetricType, st stamp, value float64) *model.RawSample {
	p.out = append(p.out, model.RawSample{
		Metric:   metric,
		Wall:     st.wall,
		HasDate:  st.hasDate,
		Absolute: st.absolute,
		FileDate: p.src.FileDate,
		Value:    value,
		Batch:    p.src.Batch,
		Source:   p.src.Path,
	})
	return &p.out[len(p.out)-1]
}

func recordAt(records []any, i int) (map[string]any, error) {
	rec, ok := records[i].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: record %d is not an object", ErrBadValue, i)
	}
	return rec, nil
}

func (p *fileParser) require(rec map[string]any, field string, i int) (any, error) {
	v, ok := p.aliases.lookup(rec, field)
	if !ok {
		return nil, fmt.Errorf("%w: record %d has no %s", ErrMissingField, i, field)
	}
	return v, nil
}

func (p *fileParser) stampOf(rec map[string]any, field string, i int) (stamp, error) {
	v, err := p.require(rec, field, i)
	if err != nil {
		return stamp{}, err
	}
	st, err := parseStamp(v)
	if err != nil {
		return stamp{}, fmt.Errorf("record %d: %w", i, err)
	}
	return st, nil
}

func (p *fileParser) parseJSON(data []byte) error {
	doc, err := decodeDocument(data)
	if err != nil {
		return err
	}
	switch p.src.Family {
	case FamilyHeartRate:
		if !flatShape(doc.shape) {
			return fmt.Errorf("%w: %s in a heart rate file", ErrUnknownShape, doc.shape)
		}
		return p.each(doc.records, p.heartRate)
	case FamilySteps:
		if !flatShape(doc.shape) {
			return fmt.Errorf("%w: %s in a steps file", ErrUnknownShape, doc.shape)
		}
		return p.each(doc.records, p.scalar(model.MetricSteps, FieldSteps))
	case FamilyIBI:
		if !flatShape(doc.shape) {
			return fmt.Errorf("%w: %s in an ibi file", ErrUnknownShape, doc.shape)
		}
		return p.each(doc.records, p.scalar(model.MetricIBI, FieldIBI))
	case FamilySleep:
		switch doc.shape {
		case ShapeStageLog:
			return p.each(doc.records, p.stageEvent)
		case ShapeSessionList, ShapeRecordList:
			return p.each(doc.records, p.session)
		}
		return fmt.Errorf("%w: %s in a sleep file", ErrUnknownShape, doc.shape)
	}
	return fmt.Errorf("%w: family %s is not JSON", ErrUnknownShape, p.src.Family)
}

func flatShape(s Shape) bool { return s == ShapeRecordList || s == ShapeValueEnvelope }

func (p *fileParser) each(records []any, fn func(map[string]any, int) error) error {
	for i := range records {
		rec, err := recordAt(records, i)
		if err != nil {
			return err
		}
		if err := fn(rec, i); err != nil {
			return err
		}
	}
	return nil
}

// heartRate accepts {"value": {"bpm", "confidence"}} as well as flat records.
func (p *fileParser) heartRate(rec map[string]any, i int) error {
	st, err := p.stampOf(rec, FieldTimestamp, i)
	if err != nil {
		return err
	}
	v, err := p.require(rec, FieldBPM, i)
	if err != nil {
		return err
	}
	qualitySrc := rec
	if nested, ok := v.(map[string]any); ok {
		if v, err = p.require(nested, FieldBPM, i); err != nil {
			return err
		}
		qualitySrc = nested
	}
	bpm, err := number(v)
	if err != nil {
		return fmt.Errorf("record %d bpm: %w", i, err)
	}
	s := p.emit(model.MetricHeartRate, st, bpm)
	if q, ok := p.aliases.lookup(qualitySrc, FieldConfidence); ok {
		f, err := number(q)
		if err != nil {
			return fmt.Errorf("record %d confidence: %w", i, err)
		}
		s.Quality = int(math.Round(f))
		s.HasQuality = true
		if !model.QualityInRange(s.Quality) {
			s.Flags |= model.FlagQualityOutOfRange
		}
	}
	return nil
}

func (p *fileParser) scalar(metric model.MetricType, field string) func(map[string]any, int) error {
	return func(rec map[string]any, i int) error {
		st, err := p.stampOf(rec, FieldTimestamp, i)
		if err != nil {
			return err
		}
		v, err := p.require(rec, field, i)
		if err != nil {
			return err
		}
		f, err := number(v)
		if err != nil {
			return fmt.Errorf("record %d %s: %w", i, field, err)
		}
		p.emit(metric, st, f)
		return nil
	}
}

// stageEvent expands one {dateTime, level, seconds} event into 30s epochs.
func (p *fileParser) stageEvent(rec map[string]any, i int) error {
	st, err := p.stampOf(rec, FieldStartTime, i)
	if err != nil {
		return err
	}
	label := ""
	if v, ok := p.aliases.lookup(rec, FieldStage); ok {
		s, _ := v.(string)
		label = strings.ToLower(strings.TrimSpace(s))
	}
	stage, ok := model.ParseSleepStage(label)
	if !ok {
		return fmt.Errorf("%w: record %d has unknown stage %q", ErrBadValue, i, label)
	}
	d, err := p.require(rec, FieldDurationSeconds, i)
	if err != nil {
		return err
	}
	secs, err := number(d)
	if err != nil {
		return fmt.Errorf("record %d duration: %w", i, err)
	}
	return p.epochs(st, time.Duration(secs*float64(time.Second)), stage, i)
}

// session handles one sleep session: staged sessions carry their own stage
// log, classic ones only a start and a duration in milliseconds.
func (p *fileParser) session(rec map[string]any, i int) error {
	if lv, ok := p.aliases.lookup(rec, FieldLevels); ok {
		if levels, ok := lv.(map[string]any); ok {
			if data, ok := levels["data"].([]any); ok {
				return p.each(data, p.stageEvent)
			}
		}
	}
	st, err := p.stampOf(rec, FieldStartTime, i)
	if err != nil {
		return err
	}
	d, err := p.require(rec, FieldDurationMillis, i)
	if err != nil {
		return err
	}
	ms, err := number(d)
	if err != nil {
		return fmt.Errorf("record %d duration: %w", i, err)
	}
	return p.epochs(st, time.Duration(ms*float64(time.Millisecond)), model.StageAsleep, i)
}

func (p *fileParser) epochs(st stamp, d time.Duration, stage model.SleepStage, i int) error {
	if d < 0 {
		return fmt.Errorf("%w: record %d has negative duration", ErrBadValue, i)
	}
	epoch := model.SleepEpochSeconds * time.Second
	n := int((d + epoch - 1) / epoch)
	for k := 0; k < n; k++ {
		s := p.emit(model.MetricSleepStage, st, float64(stage))
		s.Elapsed = time.Duration(k) * epoch
	}
	return nil
}

// parseCSV reads a daily summary. Each known metric column yields one sample
// per row, stamped at local midnight of the row's date.
func (p *fileParser) parseCSV(data []byte) error {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty csv", ErrMissingField)
		}
		return fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	dateCol := p.aliases.column(header, FieldDate)
	if dateCol < 0 {
		for i, h := range header {
			if strings.Contains(strings.ToLower(h), "date") {
				dateCol = i
				break
			}
		}
	}
	if dateCol < 0 {
		return fmt.Errorf("%w: csv has no date column", ErrMissingField)
	}

	type col struct {
		metric model.MetricType
		idx    int
	}
	var cols []col
	for _, m := range dailyColumns {
		if idx := p.aliases.column(header, string(m)); idx >= 0 && idx != dateCol {
			cols = append(cols, col{metric: m, idx: idx})
		}
	}

	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrBadValue, line, err)
		}
		if dateCol >= len(row) || strings.TrimSpace(row[dateCol]) == "" {
			return fmt.Errorf("%w: line %d has no date", ErrMissingField, line)
		}
		st, err := parseStamp(row[dateCol])
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if !st.hasDate {
			return fmt.Errorf("%w: line %d date %q has no calendar date", ErrBadValue, line, row[dateCol])
		}
		if !st.absolute {
			y, m, d := st.wall.Date()
			st.wall = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
		for _, c := range cols {
			if c.idx >= len(row) || strings.TrimSpace(row[c.idx]) == "" {
				continue
			}
			f, err := number(row[c.idx])
			if err != nil {
				return fmt.Errorf("line %d %s: %w", line, c.metric, err)
			}
			p.emit(c.metric, st, f)
		}
	}
}
