package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	Storage      string `long:"storage" env:"STORAGE" default:"sqlite" choice:"sqlite" choice:"memory" description:"Campaign storage backend"`
	DBPath       string `long:"db-path" env:"DB_PATH" default:"./data/post-comb.db" description:"SQLite database file"`
	CampaignsDir string `long:"campaigns-dir" env:"CAMPAIGNS_DIR" default:"./campaigns" description:"Directory containing campaign definition files"`
	SitesFile    string `long:"sites-file" env:"SITES_FILE" default:"./sites.yml" description:"YAML file listing publishing sites and their status"`

	// Scheduling and pipeline configuration
	SweepSchedule   string        `long:"sweep-schedule" env:"SWEEP_SCHEDULE" default:"@every 1m" description:"Cron expression for the due-campaign sweep"`
	PipelineURL     string        `long:"pipeline-url" env:"PIPELINE_URL" description:"Publish pipeline endpoint (required)" required:"true"`
	PipelineToken   string        `long:"pipeline-token" env:"PIPELINE_TOKEN" description:"Bearer token sent to the publish pipeline (optional)"`
	PipelineTimeout time.Duration `long:"pipeline-timeout" env:"PIPELINE_TIMEOUT" default:"5m" description:"Timeout for one publish pipeline call"`

	// Outbound fetching
	FetchRate       float64 `long:"fetch-rate" env:"FETCH_RATE" default:"2" description:"Outbound feed requests per second (0 disables limiting)"`
	FeedConcurrency int     `long:"feed-concurrency" env:"FEED_CONCURRENCY" default:"4" description:"Feeds fetched in parallel for one campaign"`
	TrendsURL       string  `long:"trends-url" env:"TRENDS_URL" default:"https://trends.google.com/trending/rss" description:"Google Trends RSS endpoint"`

	// HTTP API
	Port         string        `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string        `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	WaitTimeout  time.Duration `long:"wait-timeout" env:"WAIT_TIMEOUT" default:"2m" description:"How long trigger and sweep requests wait for their task before answering 202"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Post Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for the sweep schedule (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load reads an optional .env file from the working directory, then flags
// and the environment. Variables already set in the environment win.
func Load() (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadArgs(os.Args[1:])
}

// LoadArgs parses args and the environment. It returns (nil, nil) when
// help was requested.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.PipelineTimeout <= 0 {
		return nil, fmt.Errorf("pipeline timeout must be positive, got %s", raw.PipelineTimeout)
	}
	if raw.WaitTimeout <= 0 {
		return nil, fmt.Errorf("wait timeout must be positive, got %s", raw.WaitTimeout)
	}
	if raw.FetchRate < 0 {
		return nil, fmt.Errorf("fetch rate must not be negative, got %g", raw.FetchRate)
	}

	cfg := &Cfg{
		Storage:         raw.Storage,
		DBPath:          raw.DBPath,
		CampaignsDir:    raw.CampaignsDir,
		SitesFile:       raw.SitesFile,
		SweepSchedule:   raw.SweepSchedule,
		PipelineURL:     raw.PipelineURL,
		PipelineToken:   raw.PipelineToken,
		PipelineTimeout: raw.PipelineTimeout,
		FetchRate:       raw.FetchRate,
		FeedConcurrency: raw.FeedConcurrency,
		TrendsURL:       raw.TrendsURL,
		Port:            raw.Port,
		APIAccessKey:    raw.APIAccessKey,
		WaitTimeout:     raw.WaitTimeout,
		UserAgent:       raw.UserAgent,
		Timezone:        raw.Timezone,
		Location:        time.Local,
		Debug:           raw.Debug,
		Version:         GetVersion(),
	}

	if loc, err := loadLocation(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	} else if loc != nil {
		cfg.Location = loc
	}

	return cfg, nil
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return nil, nil
	}
	return time.LoadLocation(timezone)
}
