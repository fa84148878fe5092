package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TIMEZONE", "America/New_York")
	t.Setenv("STOCK_NAME", "apple")
}

func TestFromEnvDefaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MODEL_NUM", "")
	t.Setenv("TIME_LIST", "")

	c, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "2y", c.Period)
	assert.Equal(t, "1h", c.Interval)
	assert.Equal(t, "close", c.TargetColumn)
	assert.Equal(t, "stock_price_predictor_apple_stock", c.StockTable)
	assert.Equal(t, "stock_price_predictor_apple_prediction", c.PredictionTable)
	assert.Equal(t, "stock_price_predictor_apple_limit", c.LimitTable)
	assert.Equal(t, []string{"*"}, c.Symbols.Include)
	assert.Empty(t, c.TimeList)
}

func TestFromEnvOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TARGET_STOCK", "AAPL")
	t.Setenv("MODEL_NUM", "7")
	t.Setenv("TIME_LIST", "9,10,11,12,13,14,15")
	t.Setenv("AWS_DYNAMODB_STOCK_TABLE_NAME", "custom_stock")

	c, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "AAPL", c.TargetStock)
	assert.Equal(t, 7, c.ModelCount)
	assert.Equal(t, []int{9, 10, 11, 12, 13, 14, 15}, c.TimeList)
	assert.Equal(t, "custom_stock", c.StockTable)
}

func TestFromEnvRequired(t *testing.T) {
	t.Setenv("TIMEZONE", "")
	t.Setenv("STOCK_NAME", "apple")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "TIMEZONE")

	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("STOCK_NAME", "")
	_, err = FromEnv()
	assert.ErrorContains(t, err, "STOCK_NAME")
}

func TestFromEnvBadValues(t *testing.T) {
	setBaseEnv(t)

	t.Setenv("MODEL_NUM", "zero")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "MODEL_NUM")

	t.Setenv("MODEL_NUM", "-1")
	_, err = FromEnv()
	assert.ErrorContains(t, err, "MODEL_NUM")

	t.Setenv("MODEL_NUM", "7")
	t.Setenv("TIME_LIST", "9,ten")
	_, err = FromEnv()
	assert.ErrorContains(t, err, "TIME_LIST")
}

func TestLocation(t *testing.T) {
	c := &Config{Timezone: "America/New_York"}
	loc, err := c.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	c.Timezone = "Mars/Olympus"
	_, err = c.Location()
	assert.Error(t, err)
}

func TestApplyOverlay(t *testing.T) {
	c := &Config{Symbols: SymbolSet{Include: []string{"*"}}}

	path := filepath.Join(t.TempDir(), "symbols.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbols:\n  include: [\"AAPL\"]\n  exclude: [\"BRK*\"]\n"), 0o644))

	require.NoError(t, c.ApplyOverlay(path))
	assert.Equal(t, []string{"AAPL"}, c.Symbols.Include)
	assert.Equal(t, []string{"BRK*"}, c.Symbols.Exclude)
}

func TestApplyOverlayMissingFile(t *testing.T) {
	c := &Config{Symbols: SymbolSet{Include: []string{"*"}}}
	require.NoError(t, c.ApplyOverlay(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Equal(t, []string{"*"}, c.Symbols.Include)
}

func TestApplyEnvFileUnsetsRemovedKeys(t *testing.T) {
	// register cleanup for the vars the file will own
	t.Setenv("RELOAD_KEEP", "")
	t.Setenv("RELOAD_DROP", "")

	path := filepath.Join(t.TempDir(), ".env.ml")
	require.NoError(t, os.WriteFile(path, []byte("RELOAD_KEEP=one\nRELOAD_DROP=two\n"), 0o644))

	owned, err := applyEnvFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "one", os.Getenv("RELOAD_KEEP"))
	assert.Equal(t, "two", os.Getenv("RELOAD_DROP"))

	// dropping a key from the file must drop it from the environment too
	require.NoError(t, os.WriteFile(path, []byte("RELOAD_KEEP=three\n"), 0o644))
	owned, err = applyEnvFile(path, owned)
	require.NoError(t, err)
	assert.Equal(t, "three", os.Getenv("RELOAD_KEEP"))
	_, set := os.LookupEnv("RELOAD_DROP")
	assert.False(t, set)

	assert.Contains(t, owned, "RELOAD_KEEP")
	assert.NotContains(t, owned, "RELOAD_DROP")
}

func TestState(t *testing.T) {
	a := &Config{StockName: "apple"}
	b := &Config{StockName: "tesla"}

	s := NewState(a)
	assert.Same(t, a, s.Current())
	s.Apply(b)
	assert.Same(t, b, s.Current())
}
