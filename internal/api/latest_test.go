package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taiki-kuraishi/stock-price-predictor/internal/config"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/storage/dynamo"
)

type fakeReader struct {
	byDate map[string][]dynamo.PredictionRow
	all    []dynamo.PredictionRow
	scans  int
}

func (f *fakeReader) PredictionsByDate(ctx context.Context, date string) ([]dynamo.PredictionRow, error) {
	return f.byDate[date], nil
}

func (f *fakeReader) ScanPredictions(ctx context.Context) ([]dynamo.PredictionRow, error) {
	f.scans++
	return f.all, nil
}

var tradingHours = []int{9, 10, 11, 12, 13, 14, 15}

func newService(t *testing.T, reader *fakeReader, now time.Time) *Service {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return &Service{
		Log: zap.NewNop().Sugar(),
		Cfg: &config.Config{
			StockName: "apple",
			TimeList:  tradingHours,
			Symbols:   config.SymbolSet{Include: []string{"*"}},
		},
		Loc:         loc,
		Predictions: reader,
		Now:         func() time.Time { return now },
	}
}

func nyTime(t *testing.T, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	at, err := time.ParseInLocation("2006-01-02 15:04:05", value, loc)
	require.NoError(t, err)
	return at
}

func TestHandleRejectsUnknownHandler(t *testing.T) {
	s := newService(t, &fakeReader{}, nyTime(t, "2024-01-05 16:00:00"))

	got, err := s.Handle(context.Background(), Event{Handler: "update_model"})
	require.NoError(t, err)
	assert.Equal(t, badRequest, got)

	got, err = s.Handle(context.Background(), Event{})
	require.NoError(t, err)
	assert.Equal(t, badRequest, got)
}

func TestHandleRejectsUnservedSymbol(t *testing.T) {
	s := newService(t, &fakeReader{}, nyTime(t, "2024-01-05 16:00:00"))
	s.Cfg.Symbols = config.SymbolSet{Include: []string{"tesla"}}

	got, err := s.Handle(context.Background(), Event{Handler: "latest"})
	require.NoError(t, err)
	assert.Equal(t, badRequest, got)
}

func TestLatest(t *testing.T) {
	// base bar: Friday 2024-01-05 15:30, the last trading hour of the week
	reader := &fakeReader{byDate: map[string][]dynamo.PredictionRow{
		"2024-01-05": {
			{Date: "2024-01-05", Time: "09:30:00", CreateAt: "2024-01-05T10:00:00", Values: map[int]float64{1: 180}},
			{Date: "2024-01-05", Time: "15:30:00", CreateAt: "2024-01-05T16:00:00", Values: map[int]float64{1: 186.2, 2: 187}},
		},
	}}
	s := newService(t, reader, nyTime(t, "2024-01-05 16:30:00"))

	resp, err := s.Latest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2024-01-05T16:00:00", resp.PredictionTimestamp)
	require.Len(t, resp.Prediction, 2)

	// both horizons wrap past Friday's close onto Monday
	one := resp.Prediction["1_hour_prediction"]
	assert.Equal(t, "186.2", one.Value)
	assert.Equal(t, "2024-01-08T09:30:00-05:00", one.Datetime)

	two := resp.Prediction["2_hour_prediction"]
	assert.Equal(t, "187", two.Value)
	assert.Equal(t, "2024-01-08T10:30:00-05:00", two.Datetime)

	assert.Zero(t, reader.scans)
}

func TestLatestSameDayHorizon(t *testing.T) {
	reader := &fakeReader{byDate: map[string][]dynamo.PredictionRow{
		"2024-01-03": {
			{Date: "2024-01-03", Time: "11:30:00", CreateAt: "2024-01-03T12:00:00", Values: map[int]float64{1: 186.2, 4: 187, 5: 188}},
		},
	}}
	s := newService(t, reader, nyTime(t, "2024-01-03 12:00:00"))

	resp, err := s.Latest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2024-01-03T12:30:00-05:00", resp.Prediction["1_hour_prediction"].Datetime)
	assert.Equal(t, "2024-01-03T15:30:00-05:00", resp.Prediction["4_hour_prediction"].Datetime)
	// five trading hours after 11:30 spills into the next day's open
	assert.Equal(t, "2024-01-04T09:30:00-05:00", resp.Prediction["5_hour_prediction"].Datetime)
}

func TestLatestHonorsDictOrder(t *testing.T) {
	reader := &fakeReader{byDate: map[string][]dynamo.PredictionRow{
		"2024-01-03": {
			{Date: "2024-01-03", Time: "11:30:00", CreateAt: "2024-01-03T12:00:00",
				Values: map[int]float64{1: 186.2, 2: 187, 3: 188}},
		},
	}}
	s := newService(t, reader, nyTime(t, "2024-01-03 12:00:00"))
	s.Cfg.DictOrder = []string{"date", "time", "1", "2", "create_at"}

	resp, err := s.Latest(context.Background())
	require.NoError(t, err)

	// only the horizons DICT_ORDER names are exposed
	assert.Len(t, resp.Prediction, 2)
	assert.Contains(t, resp.Prediction, "1_hour_prediction")
	assert.Contains(t, resp.Prediction, "2_hour_prediction")
	assert.NotContains(t, resp.Prediction, "3_hour_prediction")
}

func TestLatestFallsBackToScan(t *testing.T) {
	reader := &fakeReader{all: []dynamo.PredictionRow{
		{Date: "2024-01-03", Time: "15:30:00", CreateAt: "2024-01-03T16:00:00", Values: map[int]float64{1: 186.2}},
	}}
	s := newService(t, reader, nyTime(t, "2024-01-05 08:00:00"))

	resp, err := s.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reader.scans)
	assert.Equal(t, "2024-01-03T16:00:00", resp.PredictionTimestamp)
}

func TestLatestNoPredictions(t *testing.T) {
	s := newService(t, &fakeReader{}, nyTime(t, "2024-01-05 08:00:00"))
	_, err := s.Latest(context.Background())
	assert.ErrorContains(t, err, "no predictions")
}

func TestLatestRequiresTimeList(t *testing.T) {
	s := newService(t, &fakeReader{}, nyTime(t, "2024-01-05 08:00:00"))
	s.Cfg.TimeList = nil
	_, err := s.Latest(context.Background())
	assert.ErrorContains(t, err, "TIME_LIST")
}

func TestNearestHourIndex(t *testing.T) {
	tests := []struct {
		hour int
		want int
	}{
		{9, 0},
		{15, 6},
		{8, 0},  // before the open snaps to the first slot
		{16, 6}, // after the close snaps to the last slot
		{12, 3},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, nearestHourIndex(tradingHours, tt.hour), "hour=%d", tt.hour)
	}
}

func TestNextTradingDay(t *testing.T) {
	tests := []struct {
		name string
		from string
		want string
	}{
		{"midweek", "2024-01-03 15:30:00", "2024-01-04"},
		{"friday skips to monday", "2024-01-05 15:30:00", "2024-01-08"},
		{"saturday lands on monday", "2024-01-06 15:30:00", "2024-01-08"},
		{"month end rolls over", "2024-01-31 15:30:00", "2024-02-01"},
		{"year end rolls over", "2024-12-31 15:30:00", "2025-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextTradingDay(nyTime(t, tt.from))
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
		})
	}
}
