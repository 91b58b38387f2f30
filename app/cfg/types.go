package cfg

import "time"

type Cfg struct {
	// Storage configuration
	Storage      string
	DBPath       string
	CampaignsDir string
	SitesFile    string

	// Scheduling and pipeline configuration
	SweepSchedule   string
	PipelineURL     string
	PipelineToken   string
	PipelineTimeout time.Duration

	// Outbound fetching
	FetchRate       float64
	FeedConcurrency int
	TrendsURL       string

	// HTTP API
	Port         string
	APIAccessKey string
	WaitTimeout  time.Duration

	// Application metadata
	UserAgent string
	Timezone  string
	Location  *time.Location
	Debug     bool
	Version   string
}

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)
