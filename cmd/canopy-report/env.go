package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/banshee-data/canopy.report/internal/artifacts"
	"github.com/banshee-data/canopy.report/internal/config"
	"github.com/banshee-data/canopy.report/internal/download"
	"github.com/banshee-data/canopy.report/internal/events"
	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/ledger"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/parallel"
	"github.com/banshee-data/canopy.report/internal/pipeline"
	"github.com/banshee-data/canopy.report/internal/quality"
	"github.com/banshee-data/canopy.report/internal/search"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

// loadEnv reads path into the process environment. A missing file is not
// an error and variables already set are not overridden.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// environment holds the CANOPY_* overrides.
type environment struct {
	DatabaseDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MinIO         artifacts.Options
	AMQPURL       string
	AMQPQueue     string
	AdminListen   string
	SceneURL      string
}

func readEnvironment(getenv func(string) string) (environment, error) {
	env := environment{
		DatabaseDSN:   getenv("CANOPY_DB_DSN"),
		RedisAddr:     getenv("CANOPY_REDIS_ADDR"),
		RedisPassword: getenv("CANOPY_REDIS_PASSWORD"),
		MinIO: artifacts.Options{
			Endpoint:  getenv("CANOPY_MINIO_ENDPOINT"),
			AccessKey: getenv("CANOPY_MINIO_ACCESS_KEY"),
			SecretKey: getenv("CANOPY_MINIO_SECRET_KEY"),
			Bucket:    getenv("CANOPY_MINIO_BUCKET"),
			Prefix:    getenv("CANOPY_MINIO_PREFIX"),
		},
		AMQPURL:     getenv("CANOPY_AMQP_URL"),
		AMQPQueue:   getenv("CANOPY_AMQP_QUEUE"),
		AdminListen: getenv("CANOPY_ADMIN_LISTEN"),
		SceneURL:    getenv("CANOPY_SCENE_URL"),
	}
	if v := getenv("CANOPY_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return env, fmt.Errorf("CANOPY_REDIS_DB: %w", err)
		}
		env.RedisDB = n
	}
	if v := getenv("CANOPY_MINIO_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return env, fmt.Errorf("CANOPY_MINIO_SECURE: %w", err)
		}
		env.MinIO.Secure = b
	}
	if env.AMQPQueue == "" {
		env.AMQPQueue = events.DefaultQueue
	}
	return env, nil
}

func mustEnvironment() environment {
	env, err := readEnvironment(os.Getenv)
	if err != nil {
		log.Fatalf("invalid environment: %v", err)
	}
	return env
}

func mustConfig() *config.PipelineConfig {
	if *configPath == "" {
		return config.DefaultConfig()
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// ledgerDSN picks the connection string: the environment wins, then
// database_dsn, then database_path for SQLite.
func ledgerDSN(cfg *config.PipelineConfig, env environment) string {
	if env.DatabaseDSN != "" {
		return env.DatabaseDSN
	}
	if dsn := cfg.GetDatabaseDSN(); dsn != "" {
		return dsn
	}
	return cfg.GetDatabasePath()
}

func openLedger(cfg *config.PipelineConfig, env environment) (*ledger.Store, error) {
	return ledger.Open(cfg.GetDatabaseDriver(), ledgerDSN(cfg, env))
}

// configureLogging sends operational logs to ops and diagnostics to diag.
func configureLogging(ops, diag io.Writer) {
	pipeline.SetLogWriters(ops, diag)
	parallel.SetLogWriters(ops, diag)
	ledger.SetLogWriters(ops, diag)
	quality.SetLogWriters(ops, diag)
	monitoring.SetOutput(diag, "[canopy] ")
}

// searchCache returns a Redis cache when configured, otherwise an
// in-process one. The returned closer is never nil.
func searchCache(ctx context.Context, env environment, clock timeutil.Clock) (search.Cache, func() error, error) {
	if env.RedisAddr == "" {
		return search.NewMemoryCache(clock), func() error { return nil }, nil
	}
	client, err := search.DialRedis(ctx, env.RedisAddr, env.RedisPassword, env.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("search cache: redis at %s", env.RedisAddr)
	return search.NewRedisCache(client), client.Close, nil
}

// sceneDownloader fetches rasters over HTTP into the raster directory when
// a scene URL is configured, otherwise it reads the directory as is.
func sceneDownloader(cfg *config.PipelineConfig, env environment) download.Downloader {
	if env.SceneURL == "" {
		return download.DirDownloader{Root: cfg.GetRasterDir()}
	}
	log.Printf("downloading scenes from %s", env.SceneURL)
	return download.HTTPDownloader{
		BaseURL: env.SceneURL,
		Dir:     cfg.GetRasterDir(),
		Client:  &http.Client{Timeout: cfg.GetDownloadTimeout()},
	}
}

func artifactMirror(ctx context.Context, env environment) (artifacts.Mirror, error) {
	if env.MinIO.Endpoint == "" {
		return artifacts.Nop{}, nil
	}
	return artifacts.NewMinIO(ctx, env.MinIO, fsutil.OSFileSystem{})
}

func eventPublisher(env environment) (events.Publisher, error) {
	if env.AMQPURL == "" {
		return events.Nop{}, nil
	}
	p, err := events.DialAMQP(env.AMQPURL, env.AMQPQueue)
	if err != nil {
		return nil, err
	}
	log.Printf("publishing events to queue %s", env.AMQPQueue)
	return p, nil
}
