package predictor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/taiki-kuraishi/stock-price-predictor/internal/config"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/dataset"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/matcher"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/metrics"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/model"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/storage/dynamo"
)

// Storage is what the predictor needs from the DynamoDB layer.
type Storage interface {
	PutBars(ctx context.Context, bars []dataset.Bar) error
	StockByDate(ctx context.Context, date string) ([]dataset.Bar, error)
	ScanStock(ctx context.Context) ([]dataset.Bar, error)
	PutPredictions(ctx context.Context, rows []dynamo.PredictionRow) error
	Watermark(ctx context.Context, stockID, operation string) (string, error)
	SetWatermark(ctx context.Context, stockID, operation, max, createAt string) error
}

// ModelStore is what the predictor needs from the S3 layer.
type ModelStore interface {
	Download(ctx context.Context, stockName string, horizon int) (*model.Regressor, error)
	Upload(ctx context.Context, stockName string, horizon int, r *model.Regressor) error
}

// MarketData fetches bars from the upstream quote API.
type MarketData interface {
	FetchRange(ctx context.Context, symbol string, start, end time.Time, interval string, loc *time.Location) ([]dataset.Bar, error)
}

// Service implements the ML lambda operations.
type Service struct {
	Log     *zap.SugaredLogger
	Cfg     *config.Config
	Loc     *time.Location
	Storage Storage
	Models  ModelStore
	Market  MarketData
	Now     func() time.Time
}

// Event is the raw invocation payload; the operation is selected by Handler.
type Event struct {
	Handler string `json:"handler"`
}

const (
	opStock      = "stock"
	opPrediction = "prediction"
	opTrain      = "train"

	isoLayout = "2006-01-02T15:04:05"
)

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().In(s.Loc)
	}
	return time.Now().In(s.Loc)
}

// Handle dispatches one invocation.
func (s *Service) Handle(ctx context.Context, event Event) (map[string]string, error) {
	if event.Handler == "" {
		return nil, fmt.Errorf("event has no handler")
	}
	if !matcher.New(s.Cfg.Symbols.Include, s.Cfg.Symbols.Exclude).Match(s.Cfg.StockName) {
		return nil, fmt.Errorf("stock %q is not served by this deployment", s.Cfg.StockName)
	}

	switch event.Handler {
	case "update_stock_table":
		n, err := s.UpdateStockTable(ctx)
		metrics.RecordInvocation(event.Handler, err)
		if err != nil {
			return nil, err
		}
		return map[string]string{"message": "update_stock_table", "update_num": strconv.Itoa(n)}, nil

	case "update_predict":
		n, err := s.UpdatePredictions(ctx)
		metrics.RecordInvocation(event.Handler, err)
		if err != nil {
			return nil, err
		}
		return map[string]string{"message": "update_predict", "update_num": strconv.Itoa(n)}, nil

	case "update_and_predict_tables":
		ns, err := s.UpdateStockTable(ctx)
		if err != nil {
			metrics.RecordInvocation(event.Handler, err)
			return nil, err
		}
		np, err := s.UpdatePredictions(ctx)
		metrics.RecordInvocation(event.Handler, err)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"message":            "update_and_predict_tables",
			"update_stock_num":   strconv.Itoa(ns),
			"update_predict_num": strconv.Itoa(np),
		}, nil

	case "update_model":
		n, err := s.UpdateModels(ctx)
		metrics.RecordInvocation(event.Handler, err)
		if err != nil {
			return nil, err
		}
		return map[string]string{"message": "update_model", "update_num": strconv.Itoa(n)}, nil
	}

	return map[string]string{"message": "wrong handler"}, nil
}

// StartPeriodic refreshes the stock and prediction tables on a ticker.
// Local-mode convenience; in production EventBridge invokes the lambda.
func (s *Service) StartPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := s.UpdateStockTable(ctx); err != nil {
					s.Log.Warnw("periodic stock update failed", "error", err)
					continue
				}
				if _, err := s.UpdatePredictions(ctx); err != nil {
					s.Log.Warnw("periodic prediction update failed", "error", err)
				}
			}
		}
	}()
}

// UpdateStockTable fetches bars newer than the stock watermark, writes them
// to the stock table and advances the watermark. Returns rows written.
func (s *Service) UpdateStockTable(ctx context.Context) (int, error) {
	wm, err := s.Storage.Watermark(ctx, s.Cfg.TargetStock, opStock)
	if err != nil {
		return 0, err
	}
	last, err := s.parseWatermark(wm)
	if err != nil {
		return 0, fmt.Errorf("stock watermark: %w", err)
	}
	end := s.now().Add(24 * time.Hour)
	s.Log.Infow("updating stock table",
		"start", last.Format(isoLayout), "end", end.Format(isoLayout))

	bars, err := s.Market.FetchRange(ctx, s.Cfg.TargetStock, last, end, s.Cfg.Interval, s.Loc)
	if err != nil {
		return 0, err
	}
	bars, err = barsAfter(bars, last, s.Loc)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		s.Log.Infow("stock table up to date")
		return 0, nil
	}

	if err := s.Storage.PutBars(ctx, bars); err != nil {
		return 0, err
	}

	tail, err := bars[len(bars)-1].DateTime(s.Loc)
	if err != nil {
		return 0, err
	}
	if err := s.Storage.SetWatermark(ctx, s.Cfg.TargetStock, opStock,
		tail.Format(isoLayout), s.now().Format(isoLayout)); err != nil {
		return 0, err
	}
	metrics.RecordBarsIngested(len(bars))
	return len(bars), nil
}

// UpdatePredictions predicts the close for every bar not covered by the
// prediction watermark, one value per horizon, and advances the watermark.
func (s *Service) UpdatePredictions(ctx context.Context) (int, error) {
	bars, err := s.unpredictedBars(ctx)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		s.Log.Infow("predictions up to date")
		return 0, nil
	}
	dataset.Sort(bars)

	rows := make([]dynamo.PredictionRow, len(bars))
	for i, b := range bars {
		rows[i] = dynamo.PredictionRow{Date: b.Date, Time: b.Time, Values: map[int]float64{}}
	}
	for h := 1; h <= s.Cfg.ModelCount; h++ {
		m, err := s.Models.Download(ctx, s.Cfg.StockName, h)
		if err != nil {
			return 0, err
		}
		for i, b := range bars {
			x, err := b.Vector(s.Cfg.FeatureColumns)
			if err != nil {
				return 0, err
			}
			rows[i].Values[h] = m.Predict(x)
		}
	}

	createAt := s.now().Format(isoLayout)
	for i := range rows {
		rows[i].CreateAt = createAt
	}
	if err := s.Storage.PutPredictions(ctx, rows); err != nil {
		return 0, err
	}

	tail, err := bars[len(bars)-1].DateTime(s.Loc)
	if err != nil {
		return 0, err
	}
	if err := s.Storage.SetWatermark(ctx, s.Cfg.TargetStock, opPrediction,
		tail.Format(isoLayout), createAt); err != nil {
		return 0, err
	}
	metrics.RecordPredictionsWritten(len(rows))
	return len(rows), nil
}

// unpredictedBars collects bars past the prediction watermark, querying the
// stock table one day at a time up to the stock watermark. An unset
// watermark means nothing was predicted yet, so everything qualifies.
func (s *Service) unpredictedBars(ctx context.Context) ([]dataset.Bar, error) {
	wm, err := s.Storage.Watermark(ctx, s.Cfg.TargetStock, opPrediction)
	if err != nil {
		return nil, err
	}
	if unset(wm) {
		return s.Storage.ScanStock(ctx)
	}
	from, err := s.parseWatermark(wm)
	if err != nil {
		return nil, fmt.Errorf("prediction watermark: %w", err)
	}

	stockWm, err := s.Storage.Watermark(ctx, s.Cfg.TargetStock, opStock)
	if err != nil {
		return nil, err
	}
	until, err := s.parseWatermark(stockWm)
	if err != nil {
		return nil, fmt.Errorf("stock watermark: %w", err)
	}

	var out []dataset.Bar
	for day := dateOnly(from); !day.After(dateOnly(until)); day = day.AddDate(0, 0, 1) {
		bars, err := s.Storage.StockByDate(ctx, day.Format("2006-01-02"))
		if err != nil {
			return nil, err
		}
		bars, err = barsAfter(bars, from, s.Loc)
		if err != nil {
			return nil, err
		}
		out = append(out, bars...)
	}
	return out, nil
}

// UpdateModels partial-fits every horizon's model on the bars between the
// train watermark and the stock watermark, then re-uploads the snapshots.
func (s *Service) UpdateModels(ctx context.Context) (int, error) {
	trainWm, err := s.Storage.Watermark(ctx, s.Cfg.TargetStock, opTrain)
	if err != nil {
		return 0, err
	}
	trained, err := s.parseWatermark(trainWm)
	if err != nil {
		return 0, fmt.Errorf("train watermark: %w", err)
	}
	stockWm, err := s.Storage.Watermark(ctx, s.Cfg.TargetStock, opStock)
	if err != nil {
		return 0, err
	}
	until, err := s.parseWatermark(stockWm)
	if err != nil {
		return 0, fmt.Errorf("stock watermark: %w", err)
	}

	var bars []dataset.Bar
	for day := dateOnly(trained).AddDate(0, 0, 1); !day.After(dateOnly(until)); day = day.AddDate(0, 0, 1) {
		dayBars, err := s.Storage.StockByDate(ctx, day.Format("2006-01-02"))
		if err != nil {
			return 0, err
		}
		bars = append(bars, dayBars...)
	}
	if len(bars) == 0 {
		s.Log.Infow("models up to date")
		return 0, nil
	}
	dataset.Sort(bars)

	for h := 1; h <= s.Cfg.ModelCount; h++ {
		m, err := s.Models.Download(ctx, s.Cfg.StockName, h)
		if err != nil {
			return 0, err
		}
		samples, err := dataset.ShiftClose(bars, h, s.Cfg.FeatureColumns)
		if err != nil {
			return 0, err
		}
		for _, sm := range samples {
			if err := m.PartialFit(sm.X, sm.Y); err != nil {
				return 0, err
			}
		}
		if err := s.Models.Upload(ctx, s.Cfg.StockName, h, m); err != nil {
			return 0, err
		}
		metrics.RecordModelUpdate(strconv.Itoa(h))
	}

	if err := s.Storage.SetWatermark(ctx, s.Cfg.TargetStock, opTrain,
		dateOnly(until).Format("2006-01-02"), s.now().Format(isoLayout)); err != nil {
		return 0, err
	}
	return len(bars), nil
}

var watermarkLayouts = []string{
	isoLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (s *Service) parseWatermark(v string) (time.Time, error) {
	if unset(v) {
		return time.Time{}, fmt.Errorf("watermark not initialized (run init-tables first)")
	}
	for _, layout := range watermarkLayouts {
		if t, err := time.ParseInLocation(layout, v, s.Loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable watermark %q", v)
}

func unset(v string) bool { return v == "" || v == "0" }

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func barsAfter(bars []dataset.Bar, cutoff time.Time, loc *time.Location) ([]dataset.Bar, error) {
	out := bars[:0]
	for _, b := range bars {
		dt, err := b.DateTime(loc)
		if err != nil {
			return nil, err
		}
		if dt.After(cutoff) {
			out = append(out, b)
		}
	}
	return out, nil
}
