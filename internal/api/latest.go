package api

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/taiki-kuraishi/stock-price-predictor/internal/config"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/matcher"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/metrics"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/storage/dynamo"
)

// PredictionReader is the slice of the DynamoDB layer the API needs.
type PredictionReader interface {
	PredictionsByDate(ctx context.Context, date string) ([]dynamo.PredictionRow, error)
	ScanPredictions(ctx context.Context) ([]dynamo.PredictionRow, error)
}

// Service serves the latest stored prediction.
type Service struct {
	Log         *zap.SugaredLogger
	Cfg         *config.Config
	Loc         *time.Location
	Predictions PredictionReader
	Now         func() time.Time
}

// Event is the raw invocation payload.
type Event struct {
	Handler string `json:"handler"`
}

// HorizonPrediction is one predicted close with the wall-clock time it
// applies to.
type HorizonPrediction struct {
	Value    string `json:"value"`
	Datetime string `json:"datetime"`
}

// LatestResponse is the "latest" operation's response body.
type LatestResponse struct {
	PredictionTimestamp string                       `json:"prediction_timestamp"`
	Prediction          map[string]HorizonPrediction `json:"prediction"`
}

var badRequest = map[string]string{"message": "bad request"}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().In(s.Loc)
	}
	return time.Now().In(s.Loc)
}

// Handle dispatches one invocation. Anything but "latest" is a bad request.
func (s *Service) Handle(ctx context.Context, event Event) (any, error) {
	if event.Handler != "latest" {
		return badRequest, nil
	}
	if !matcher.New(s.Cfg.Symbols.Include, s.Cfg.Symbols.Exclude).Match(s.Cfg.StockName) {
		return badRequest, nil
	}
	resp, err := s.Latest(ctx)
	metrics.RecordInvocation("latest", err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Latest returns the most recent prediction row, with each horizon mapped to
// the trading hour it targets.
func (s *Service) Latest(ctx context.Context) (*LatestResponse, error) {
	if len(s.Cfg.TimeList) == 0 {
		return nil, fmt.Errorf("TIME_LIST not configured")
	}

	today := s.now().Format("2006-01-02")
	rows, err := s.Predictions.PredictionsByDate(ctx, today)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		// nothing predicted today yet; fall back to the newest row overall
		rows, err = s.Predictions.ScanPredictions(ctx)
		if err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no predictions stored")
	}

	dynamo.SortPredictions(rows)
	last := rows[len(rows)-1]

	base, err := time.ParseInLocation("2006-01-02 15:04:05", last.Date+" "+last.Time, s.Loc)
	if err != nil {
		return nil, fmt.Errorf("prediction row %s %s: %w", last.Date, last.Time, err)
	}

	resp := &LatestResponse{
		PredictionTimestamp: last.CreateAt,
		Prediction:          map[string]HorizonPrediction{},
	}

	baseIdx := nearestHourIndex(s.Cfg.TimeList, base.Hour())
	horizons := s.horizons(last)

	for _, h := range horizons {
		target := horizonTime(base, s.Cfg.TimeList, baseIdx, h)
		resp.Prediction[fmt.Sprintf("%d_hour_prediction", h)] = HorizonPrediction{
			Value:    strconv.FormatFloat(last.Values[h], 'f', -1, 64),
			Datetime: target.Format(time.RFC3339),
		}
	}

	s.Log.Infow("latest prediction served",
		"base", base.Format(time.RFC3339), "horizons", len(horizons))
	return resp, nil
}

// horizons picks which horizon columns of the row the response exposes.
// DICT_ORDER pins the column set when configured; non-numeric entries (date,
// time, create_at) are the row's key columns and are skipped.
func (s *Service) horizons(row dynamo.PredictionRow) []int {
	out := make([]int, 0, len(row.Values))
	if len(s.Cfg.DictOrder) > 0 {
		for _, col := range s.Cfg.DictOrder {
			h, err := strconv.Atoi(col)
			if err != nil {
				continue
			}
			if _, ok := row.Values[h]; ok {
				out = append(out, h)
			}
		}
		return out
	}
	for h := range row.Values {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}

// nearestHourIndex finds the trading hour closest to h. The base bar can
// fall outside the list (half days, data glitches); snap to the nearest
// slot instead of failing.
func nearestHourIndex(timeList []int, h int) int {
	best, bestDist := 0, 1<<31
	for i, v := range timeList {
		d := v - h
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// horizonTime maps "h trading hours after base" to a wall-clock time,
// wrapping past the end of the trading day and skipping weekends.
func horizonTime(base time.Time, timeList []int, baseIdx, h int) time.Time {
	steps := baseIdx + h
	days := steps / len(timeList)
	hour := timeList[steps%len(timeList)]

	target := base
	for i := 0; i < days; i++ {
		target = nextTradingDay(target)
	}
	return time.Date(target.Year(), target.Month(), target.Day(),
		hour, target.Minute(), target.Second(), 0, target.Location())
}

func nextTradingDay(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, 2)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}
