package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Shape is the layout of one export file.
type Shape int

const (
	ShapeUnknown Shape = iota
	// ShapeRecordList is a top-level JSON array of records.
	ShapeRecordList
	// ShapeValueEnvelope is {"value": [records]}.
	ShapeValueEnvelope
	// ShapeStageLog is {"levels": {"data": [stage events]}}.
	ShapeStageLog
	// ShapeSessionList is {"sleep": [sessions]}.
	ShapeSessionList
	// ShapeDailyCSV is a header row followed by one row per day.
	ShapeDailyCSV
)

func (s Shape) String() string {
	switch s {
	case ShapeRecordList:
		return "record_list"
	case ShapeValueEnvelope:
		return "value_envelope"
	case ShapeStageLog:
		return "stage_log"
	case ShapeSessionList:
		return "session_list"
	case ShapeDailyCSV:
		return "daily_csv"
	default:
		return "unknown"
	}
}

// document is a decoded JSON file together with its detected shape.
type document struct {
	shape   Shape
	records []any
}

// decodeDocument decodes data and classifies it by the keys it carries.
func decodeDocument(data []byte) (document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return document{}, fmt.Errorf("%w: %v", ErrBadValue, err)
	}

	switch v := root.(type) {
	case []any:
		return document{shape: ShapeRecordList, records: v}, nil
	case map[string]any:
		if levels, ok := v["levels"].(map[string]any); ok {
			if data, ok := levels["data"].([]any); ok {
				return document{shape: ShapeStageLog, records: data}, nil
			}
		}
		if sessions, ok := v["sleep"].([]any); ok {
			return document{shape: ShapeSessionList, records: sessions}, nil
		}
		if values, ok := v["value"].([]any); ok {
			return document{shape: ShapeValueEnvelope, records: values}, nil
		}
	}
	return document{}, ErrUnknownShape
}
