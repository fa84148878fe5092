package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/taiki-kuraishi/stock-price-predictor/internal/api"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/config"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/local"
	"github.com/taiki-kuraishi/stock-price-predictor/internal/storage/dynamo"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	onLambda := os.Getenv("AWS_LAMBDA_RUNTIME_API") != ""
	envFile := getenv("ENV_FILE", ".env.api")
	if !onLambda {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Overload(envFile); err != nil {
				sugar.Fatalw("load env file", "path", envFile, "error", err)
			}
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		sugar.Fatalw("config", "error", err)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		sugar.Fatalw("aws config", "error", err)
	}
	ddb := dynamodb.NewFromConfig(awsCfg)

	build := func(cfg *config.Config) (*api.Service, error) {
		loc, err := cfg.Location()
		if err != nil {
			return nil, err
		}
		return &api.Service{
			Log: sugar,
			Cfg: cfg,
			Loc: loc,
			Predictions: &dynamo.Store{
				Client:          ddb,
				PredictionTable: cfg.PredictionTable,
			},
		}, nil
	}

	if onLambda {
		svc, err := build(cfg)
		if err != nil {
			sugar.Fatalw("service wiring", "error", err)
		}
		lambda.Start(svc.Handle)
		return
	}

	// local mode: RIE-compatible server with env file hot reload
	state := config.NewState(cfg)
	if _, err := os.Stat(envFile); err == nil {
		if err := config.WatchEnvFile(sugar, envFile, func(c *config.Config) {
			applyOverlay(sugar, c)
			state.Apply(c)
			sugar.Infow("config reloaded", "envFile", envFile)
		}); err != nil {
			sugar.Fatalw("env watcher", "error", err)
		}
	}

	srvImpl := local.NewServer(sugar, func(ctx context.Context, payload []byte) (any, error) {
		var ev api.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, err
		}
		svc, err := build(state.Current())
		if err != nil {
			return nil, err
		}
		return svc.Handle(ctx, ev)
	})

	srv := &http.Server{Addr: ":8080", Handler: srvImpl.Router}
	go func() {
		sugar.Infow("api lambda listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("server error", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		if err := cfg.ApplyOverlay(p); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func applyOverlay(sugar *zap.SugaredLogger, cfg *config.Config) {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		if err := cfg.ApplyOverlay(p); err != nil {
			sugar.Warnw("config overlay", "path", p, "error", err)
		}
	}
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

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
