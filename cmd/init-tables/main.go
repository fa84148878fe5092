// init-tables provisions everything the two lambdas expect: the DynamoDB
// tables, a full historical backfill of the stock table, freshly trained
// model snapshots in S3 and the limit-table watermarks.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/taiki-kuraishi/stock-price-predictor/internal/config"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/dataset"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/marketdata"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/model"
	dynamostore "github.com/taiki-kuraishi/stock-price-predictor/internal/storage/dynamo"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/storage/modelstore"
)

const isoLayout = "2006-01-02T15:04:05"

func main() {
	var (
		envFile      = flag.String("env-file", ".env.ml", "env file to load when not running on Lambda infra")
		createFlag   = flag.Bool("create-tables", false, "create the DynamoDB tables and wait for ACTIVE")
		backfill     = flag.Bool("backfill", false, "wipe and refill the stock table from the market data API")
		initModels   = flag.Bool("init-models", false, "train fresh models over the stored bars and upload them")
		resetPreds   = flag.Bool("reset-predictions", false, "wipe the prediction table and reset its watermark")
		doEverything = flag.Bool("all", false, "create-tables + backfill + init-models + reset-predictions")
	)
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *doEverything {
		*createFlag, *backfill, *initModels, *resetPreds = true, true, true, true
	}
	if !*createFlag && !*backfill && !*initModels && !*resetPreds {
		flag.Usage()
		os.Exit(2)
	}

	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Overload(*envFile); err != nil {
			sugar.Fatalw("load env file", "path", *envFile, "error", err)
		}
	}

	cfg, err := config.FromEnv()
	if err != nil {
		sugar.Fatalw("config", "error", err)
	}
	if cfg.ModelCount == 0 {
		sugar.Fatalw("config", "error", "MODEL_NUM not set")
	}
	loc, err := cfg.Location()
	if err != nil {
		sugar.Fatalw("config", "error", err)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		sugar.Fatalw("aws config", "error", err)
	}
	ddb := dynamodb.NewFromConfig(awsCfg)
	store := &dynamostore.Store{
		Client:          ddb,
		StockTable:      cfg.StockTable,
		PredictionTable: cfg.PredictionTable,
		LimitTable:      cfg.LimitTable,
	}
	models := &modelstore.Store{Client: s3.NewFromConfig(awsCfg), Bucket: cfg.Bucket}
	market := marketdata.NewClient(sugar)
	now := func() string { return time.Now().In(loc).Format(isoLayout) }

	if *createFlag {
		sugar.Infow("creating tables",
			"stock", cfg.StockTable, "prediction", cfg.PredictionTable, "limit", cfg.LimitTable)
		admin := &dynamostore.Admin{Client: ddb}
		if err := admin.EnsureTables(ctx, cfg.StockTable, cfg.PredictionTable, cfg.LimitTable); err != nil {
			sugar.Fatalw("create tables", "error", err)
		}
	}

	if *backfill {
		sugar.Infow("backfilling stock table",
			"stock", cfg.TargetStock, "period", cfg.Period, "interval", cfg.Interval)
		if err := store.PurgeStock(ctx); err != nil {
			sugar.Fatalw("purge stock table", "error", err)
		}
		bars, err := market.FetchPeriod(ctx, cfg.TargetStock, cfg.Period, cfg.Interval, loc)
		if err != nil {
			sugar.Fatalw("backfill fetch", "error", err)
		}
		if err := store.PutBars(ctx, bars); err != nil {
			sugar.Fatalw("backfill write", "error", err)
		}
		tail, err := bars[len(bars)-1].DateTime(loc)
		if err != nil {
			sugar.Fatalw("backfill watermark", "error", err)
		}
		if err := store.SetWatermark(ctx, cfg.TargetStock, "stock", tail.Format(isoLayout), now()); err != nil {
			sugar.Fatalw("backfill watermark", "error", err)
		}
		sugar.Infow("stock table filled", "rows", len(bars))
	}

	if *resetPreds {
		sugar.Infow("resetting prediction table")
		if err := store.PurgePredictions(ctx); err != nil {
			sugar.Fatalw("purge prediction table", "error", err)
		}
		if err := store.SetWatermark(ctx, cfg.TargetStock, "prediction", "0", now()); err != nil {
			sugar.Fatalw("prediction watermark", "error", err)
		}
	}

	if *initModels {
		if err := trainInitialModels(ctx, sugar, cfg, loc, store, models, now()); err != nil {
			sugar.Fatalw("init models", "error", err)
		}
	}

	sugar.Infow("init finished")
}

func trainInitialModels(ctx context.Context, sugar *zap.SugaredLogger, cfg *config.Config,
	loc *time.Location, store *dynamostore.Store, models *modelstore.Store, createAt string) error {

	bars, err := store.ScanStock(ctx)
	if err != nil {
		return err
	}
	dataset.Sort(bars)
	sugar.Infow("training initial models", "rows", len(bars), "models", cfg.ModelCount)

	for h := 1; h <= cfg.ModelCount; h++ {
		samples, err := dataset.ShiftClose(bars, h, cfg.FeatureColumns)
		if err != nil {
			return err
		}
		m := model.New()
		for _, sm := range samples {
			if err := m.PartialFit(sm.X, sm.Y); err != nil {
				return err
			}
		}
		if err := models.Upload(ctx, cfg.StockName, h, m); err != nil {
			return err
		}
		sugar.Infow("model uploaded", "horizon", h, "samples", len(samples))
	}

	tail, err := bars[len(bars)-1].DateTime(loc)
	if err != nil {
		return err
	}
	return store.SetWatermark(ctx, cfg.TargetStock, "train", tail.Format(isoLayout), createAt)
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
