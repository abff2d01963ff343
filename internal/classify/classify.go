package classify

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"pat-backend/internal/storage"
)

var ErrInvalidFormat = errors.New("invalid timestamp format")

// StaleAfter is the freshness window of a reading.
const StaleAfter = 20 * time.Minute

type Pollutant string

const (
	PM25 Pollutant = "pm25"
	PM10 Pollutant = "pm10"
)

type Band struct {
	Min      float64
	Max      float64
	Category string
	Message  string
	Code     int
}

const (
	msgExcellent = "Air quality is considered satisfactory, and air pollution poses little or no risk."
	msgGood      = "Air quality is acceptable; however, for some pollutants there may be a moderate health concern for a very small number of people who are unusually sensitive to air pollution."
	msgFair      = "Members of sensitive groups may experience health effects. The general public is not likely to be affected."
	msgInferior  = "Everyone may begin to experience health effects; members of sensitive groups may experience more serious health effects."
	msgPoor      = "Health alert: everyone may experience more serious health effects."
	msgHazardous = "Health warnings of emergency conditions. The entire population is more likely to be affected."
)

// Bands are closed on both ends. The gaps between them are literal: a value
// such as 12.05 belongs to no band.
var bands = map[Pollutant][]Band{
	PM25: {
		{Min: 0.0, Max: 12.0, Category: "Excellent", Message: msgExcellent, Code: 1},
		{Min: 12.1, Max: 35.4, Category: "Good", Message: msgGood, Code: 2},
		{Min: 35.5, Max: 55.4, Category: "Fair", Message: msgFair, Code: 3},
		{Min: 55.5, Max: 150.4, Category: "Inferior", Message: msgInferior, Code: 3},
		{Min: 150.5, Max: 250.4, Category: "Poor", Message: msgPoor, Code: 4},
		{Min: 250.5, Max: 99999999, Category: "Hazardous", Message: msgHazardous, Code: 5},
	},
	PM10: {
		{Min: 0, Max: 54, Category: "Excellent", Message: msgExcellent, Code: 1},
		{Min: 55, Max: 154, Category: "Good", Message: msgGood, Code: 2},
		{Min: 155, Max: 254, Category: "Fair", Message: msgFair, Code: 3},
		{Min: 255, Max: 354, Category: "Inferior", Message: msgInferior, Code: 3},
		{Min: 355, Max: 424, Category: "Poor", Message: msgPoor, Code: 4},
		{Min: 425, Max: 99999999, Category: "Hazardous", Message: msgHazardous, Code: 5},
	},
}

var unknown = Band{Category: "Unknown", Message: "Unknown", Code: 0}

// Classify returns the category and code of the first band containing value.
func Classify(p Pollutant, value float64) (string, int) {
	b := Lookup(p, value)
	return b.Category, b.Code
}

// Lookup returns the whole band, including its message.
func Lookup(p Pollutant, value float64) Band {
	for _, b := range bands[p] {
		if b.Min <= value && value <= b.Max {
			return b
		}
	}
	return unknown
}

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)

// ParseTimestamp accepts only YYYY-MM-DDTHH:MM:SSZ.
func ParseTimestamp(s string) (time.Time, error) {
	if !timestampPattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	ts, err := time.Parse(storage.TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %w", ErrInvalidFormat, s, err)
	}
	return ts, nil
}

type Clock func() time.Time

type Staleness struct {
	now Clock
}

func NewStaleness(now Clock) *Staleness {
	if now == nil {
		now = time.Now
	}
	return &Staleness{now: now}
}

// Check reports whether ts is older than StaleAfter and its age in whole seconds.
func (s *Staleness) Check(ts string) (bool, int64, error) {
	parsed, err := ParseTimestamp(ts)
	if err != nil {
		return false, 0, err
	}
	age := s.now().UTC().Sub(parsed)
	return age > StaleAfter, int64(age / time.Second), nil
}
