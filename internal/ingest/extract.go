package ingest

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/coldchainhq/alert-engine/internal/model"
)

// Vendors disagree on payload field names. Extraction walks an ordered
// candidate list per measurement and takes the first field present.
var (
	temperatureKeys = []string{"temperature", "temp", "temp_c", "t"}
	humidityKeys    = []string{"humidity", "hum", "rh", "h"}
	batteryKeys     = []string{"battery", "batt", "battery_level", "b"}
	timestampKeys   = []string{"recorded_at", "timestamp", "ts", "time"}
)

// ErrNoTemperature marks payloads with no resolvable temperature field
var ErrNoTemperature = errors.New("payload has no temperature field")

// ExtractReading decodes a vendor payload into a typed reading. A
// missing timestamp falls back to now; a missing temperature rejects
// the payload.
func ExtractReading(data []byte, now time.Time) (model.Reading, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return model.Reading{}, err
	}

	temperature, ok := numberField(payload, temperatureKeys)
	if !ok {
		return model.Reading{}, ErrNoTemperature
	}

	reading := model.Reading{
		Temperature: temperature,
		Source:      model.ReadingSourceSensor,
		RecordedAt:  now,
	}

	if humidity, ok := numberField(payload, humidityKeys); ok {
		reading.Humidity = &humidity
	}
	if battery, ok := numberField(payload, batteryKeys); ok {
		reading.Battery = &battery
	}
	if recordedAt, ok := timeField(payload, timestampKeys); ok {
		reading.RecordedAt = recordedAt
	}
	if source, ok := payload["source"].(string); ok && source == string(model.ReadingSourceManual) {
		reading.Source = model.ReadingSourceManual
	}
	if unitID, ok := payload["unit_id"].(string); ok {
		reading.UnitID = unitID
	}

	return reading, nil
}

// numberField returns the first candidate present as a number. Some
// vendors quote their numbers, so numeric strings count too.
func numberField(payload map[string]interface{}, keys []string) (float64, bool) {
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// timeField returns the first candidate parseable as a timestamp:
// RFC3339 strings, unix seconds, or unix milliseconds.
func timeField(payload map[string]interface{}, keys []string) (time.Time, bool) {
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return ts.UTC(), true
			}
		case float64:
			// Millisecond epochs are 13 digits; seconds are 10.
			if v > 1e12 {
				return time.UnixMilli(int64(v)).UTC(), true
			}
			return time.Unix(int64(v), 0).UTC(), true
		}
	}
	return time.Time{}, false
}
