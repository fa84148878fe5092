package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SymbolSet scopes which stock symbols this deployment serves.
type SymbolSet struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Config carries everything both lambdas read from the environment, plus the
// optional YAML overlay for symbol scoping.
type Config struct {
	Timezone    string
	TargetStock string // ticker passed to the market data API, e.g. "AAPL"
	StockName   string // short name used in table and model keys, e.g. "apple"
	Period      string // initial backfill range, e.g. "2y"
	Interval    string // bar interval, e.g. "1h"

	ModelCount     int // one model per prediction horizon, 1..ModelCount hours
	FeatureColumns []string
	TargetColumn   string
	TimeList       []int    // trading hours a bar can start at, ascending
	DictOrder      []string // prediction row columns the API exposes, in order

	Region          string
	AccessKeyID     string
	SecretAccessKey string

	StockTable      string
	PredictionTable string
	LimitTable      string
	Bucket          string

	Symbols SymbolSet `yaml:"symbols"`
}

// FromEnv builds a Config from the process environment. TIMEZONE and
// STOCK_NAME are required; table names default to the
// stock_price_predictor_<stock>_* convention.
func FromEnv() (*Config, error) {
	c := &Config{
		Timezone:        os.Getenv("TIMEZONE"),
		TargetStock:     os.Getenv("TARGET_STOCK"),
		StockName:       os.Getenv("STOCK_NAME"),
		Period:          getenv("PERIOD", "2y"),
		Interval:        getenv("INTERVAL", "1h"),
		TargetColumn:    getenv("TARGET_COLUMN", "close"),
		Region:          os.Getenv("REGION_NAME"),
		AccessKeyID:     os.Getenv("ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("SECRET_ACCESS_KEY"),
		Bucket:          os.Getenv("AWS_S3_BUCKET_NAME"),
	}
	if c.Timezone == "" {
		return nil, fmt.Errorf("TIMEZONE not set")
	}
	if c.StockName == "" {
		return nil, fmt.Errorf("STOCK_NAME not set")
	}

	c.StockTable = getenv("AWS_DYNAMODB_STOCK_TABLE_NAME", "stock_price_predictor_"+c.StockName+"_stock")
	c.PredictionTable = getenv("AWS_DYNAMODB_PREDICTION_TABLE_NAME", "stock_price_predictor_"+c.StockName+"_prediction")
	c.LimitTable = getenv("AWS_DYNAMODB_LIMIT_TABLE_NAME", "stock_price_predictor_"+c.StockName+"_limit")

	if v := os.Getenv("MODEL_NUM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MODEL_NUM %q: want positive integer", v)
		}
		c.ModelCount = n
	}

	c.FeatureColumns = splitList(getenv("FEATURES_COLUMNS",
		"year,month,day,hour,dayofweek,open,high,low,adj_close,volume"))
	c.DictOrder = splitList(os.Getenv("DICT_ORDER"))

	if v := os.Getenv("TIME_LIST"); v != "" {
		for _, s := range splitList(v) {
			h, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("TIME_LIST entry %q: %w", s, err)
			}
			c.TimeList = append(c.TimeList, h)
		}
	}

	// serve the configured symbol unless an overlay narrows it down
	c.Symbols = SymbolSet{Include: []string{"*"}}

	return c, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ApplyOverlay merges the YAML overlay file (symbol scoping) into c.
// A missing file is not an error.
func (c *Config) ApplyOverlay(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(b, c)
}

// State holds the current config for hot reload in local mode.
type State struct {
	cfg atomic.Value // *Config
}

func NewState(c *Config) *State { s := &State{}; s.cfg.Store(c); return s }

func (s *State) Current() *Config { return s.cfg.Load().(*Config) }

func (s *State) Apply(c *Config) { s.cfg.Store(c) }

// WatchEnvFile reloads the env file and rebuilds the config whenever the file
// changes. Keys removed from the file are unset again, so a reload never
// leaves stale values behind. Only used in local mode; the managed Lambda
// runtime injects env vars directly.
func WatchEnvFile(log *zap.SugaredLogger, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}

	// the initial load happened in main; remember which keys the file owns
	owned := map[string]struct{}{}
	if vals, err := godotenv.Read(path); err == nil {
		for k := range vals {
			owned[k] = struct{}{}
		}
	}

	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, filepath.Base(path)) {
					continue
				}
				// editors write in bursts; let the file settle
				time.Sleep(200 * time.Millisecond)
				owned, err = applyEnvFile(path, owned)
				if err != nil {
					log.Warnw("env reload failed", "path", path, "error", err)
					continue
				}
				cfg, err := FromEnv()
				if err != nil {
					log.Warnw("config rebuild failed", "error", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnw("watch error", "error", err)
			}
		}
	}()
	return nil
}

// applyEnvFile loads the env file into the process environment. Keys the
// previous load introduced but the file no longer carries are unset.
func applyEnvFile(path string, prev map[string]struct{}) (map[string]struct{}, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		return prev, err
	}
	for k := range prev {
		if _, ok := vals[k]; !ok {
			os.Unsetenv(k)
		}
	}
	next := make(map[string]struct{}, len(vals))
	for k, v := range vals {
		if err := os.Setenv(k, v); err != nil {
			return prev, err
		}
		next[k] = struct{}{}
	}
	return next, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
