package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/canopy.report/internal/version"
)

var (
	configPath = flag.String("config", "", "Pipeline configuration file (.json); defaults are used when empty")
	envFile    = flag.String("env", ".env", "Optional dotenv file with CANOPY_* overrides")
	verbose    = flag.Bool("v", false, "Enable diagnostic logging")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}
	if err := loadEnv(*envFile); err != nil {
		log.Fatalf("failed to load %s: %v", *envFile, err)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "run":
		handleRun(args)
	case "migrate":
		handleMigrate(args)
	case "status":
		handleStatus(args)
	case "report":
		handleReport(args)
	case "version":
		fmt.Printf("canopy-report %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`canopy-report - Sentinel-2 vegetation index processing for field plots

Usage: canopy-report [global flags] <command> [options]

Commands:
  run        Process every plot: search, download, filter, compute indices
  migrate    Manage the ledger schema (up, down, status, version, force)
  status     Show the processing ledger (use --plot for one plot's records)
  report     Render index time-series charts from processed outputs
  version    Show version information
  help       Show this help message

Global Flags:
  --config <file>   Pipeline configuration (.json)
  --env <file>      Dotenv file with CANOPY_* overrides (default: .env)
  -v                Diagnostic logging

Environment:
  CANOPY_DB_DSN          Ledger DSN (overrides database_dsn / database_path)
  CANOPY_REDIS_ADDR      Redis address for the search result cache
  CANOPY_REDIS_PASSWORD  Redis password
  CANOPY_REDIS_DB        Redis database number
  CANOPY_MINIO_ENDPOINT  S3-compatible endpoint for the artifact mirror
  CANOPY_MINIO_ACCESS_KEY, CANOPY_MINIO_SECRET_KEY
  CANOPY_MINIO_BUCKET    Mirror bucket
  CANOPY_MINIO_PREFIX    Object key prefix
  CANOPY_MINIO_SECURE    Use TLS (true/false)
  CANOPY_AMQP_URL        AMQP broker for processing events
  CANOPY_AMQP_QUEUE      Event queue (default: canopy.processing)
  CANOPY_SCENE_URL       Base URL serving {plot_id}/{date}.tif scenes
  CANOPY_ADMIN_LISTEN    Address for /metrics and /debug/ (e.g. :9090)

Examples:
  canopy-report --config config/pipeline.defaults.json run
  canopy-report run --plots fields.geojson --sequential
  canopy-report migrate status
  canopy-report status --plot field-17
  canopy-report report --plot field-17`)
}
