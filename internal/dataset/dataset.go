package dataset

import (
	"fmt"
	"sort"
	"time"
)

// Bar is one OHLCV bar, keyed the way the stock table stores it: date and
// time as separate strings in the configured timezone.
type Bar struct {
	Date     string // "2006-01-02"
	Time     string // "15:04:05"
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
	Volume   float64
}

const (
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04:05"
	datetimeLayout = dateLayout + " " + timeLayout
)

// DateTime parses the bar's date+time in loc.
func (b Bar) DateTime(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(datetimeLayout, b.Date+" "+b.Time, loc)
}

// FromTime fills Date and Time from t.
func FromTime(t time.Time) (date, clock string) {
	return t.Format(dateLayout), t.Format(timeLayout)
}

// Vector extracts the named feature columns from the bar. Calendar features
// use pandas conventions (dayofweek: Monday=0).
func (b Bar) Vector(columns []string) ([]float64, error) {
	dt, err := b.DateTime(time.UTC)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(columns))
	for _, col := range columns {
		switch col {
		case "year":
			out = append(out, float64(dt.Year()))
		case "month":
			out = append(out, float64(dt.Month()))
		case "day":
			out = append(out, float64(dt.Day()))
		case "hour":
			out = append(out, float64(dt.Hour()))
		case "dayofweek":
			out = append(out, float64((int(dt.Weekday())+6)%7))
		case "open":
			out = append(out, b.Open)
		case "high":
			out = append(out, b.High)
		case "low":
			out = append(out, b.Low)
		case "close":
			out = append(out, b.Close)
		case "adj_close":
			out = append(out, b.AdjClose)
		case "volume":
			out = append(out, b.Volume)
		default:
			return nil, fmt.Errorf("unknown feature column %q", col)
		}
	}
	return out, nil
}

// Sort orders bars chronologically. Date and Time are ISO strings, so
// lexicographic order is chronological order.
func Sort(bars []Bar) {
	sort.Slice(bars, func(i, j int) bool {
		if bars[i].Date != bars[j].Date {
			return bars[i].Date < bars[j].Date
		}
		return bars[i].Time < bars[j].Time
	})
}

// Sample is one training example.
type Sample struct {
	X []float64
	Y float64
}

// ShiftClose labels each bar with the close price horizon rows later and
// drops the unlabeled tail. Bars must already be sorted chronologically.
func ShiftClose(bars []Bar, horizon int, features []string) ([]Sample, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}
	if len(bars) <= horizon {
		return nil, nil
	}
	out := make([]Sample, 0, len(bars)-horizon)
	for i := 0; i < len(bars)-horizon; i++ {
		x, err := bars[i].Vector(features)
		if err != nil {
			return nil, err
		}
		out = append(out, Sample{X: x, Y: bars[i+horizon].Close})
	}
	return out, nil
}
