package harvest

import (
	"fmt"
	"time"

	"coursesync-backend/lib/baseline"
	"coursesync-backend/lib/chrono"
	"coursesync-backend/lib/configutil"
	configlibsql "coursesync-backend/lib/configutil/libsql"
	"coursesync-backend/lib/delivery"
	"coursesync-backend/lib/records"
	"coursesync-backend/lib/retry"
	"coursesync-backend/lib/scrapers/curriculum"
)

type PartitionConfig struct {
	ID       string           `json:"id"`
	DataType records.DataType `json:"data_type"`
	// File is a JSON export of the partition's documents, when set it is
	// read instead of fetching from the source.
	File     string               `json:"file"`
	Programs []curriculum.Program `json:"programs"`
	// Index discovers further programs from an index page of the source.
	Index *ProgramIndex `json:"index"`
}

type ProgramIndex struct {
	Path string `json:"path"`
	// Selector narrows the links of the page, it defaults to every anchor.
	Selector   string `json:"selector"`
	Department string `json:"department"`
}

type SourceConfig struct {
	BaseUrl        string `json:"base_url"`
	UserAgent      string `json:"user_agent"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type RetryConfig struct {
	MaxRetries       int     `json:"max_retries"`
	BaseDelaySeconds float64 `json:"base_delay_seconds"`
	MaxDelaySeconds  float64 `json:"max_delay_seconds"`
}

func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries: c.MaxRetries,
		BaseDelay:  time.Duration(c.BaseDelaySeconds * float64(time.Second)),
		MaxDelay:   time.Duration(c.MaxDelaySeconds * float64(time.Second)),
	}
}

type BaselineStoreConfig struct {
	// Dir keeps one JSON file per partition.
	Dir string `json:"dir"`
	// Database is used instead of Dir when it is set.
	Database *configlibsql.Struct `json:"database"`
}

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	To           []string `json:"to"`
}

type MirrorConfig struct {
	// Dir receives one CSV file per partition, empty disables mirroring.
	Dir string `json:"dir"`
}

type Config struct {
	Delivery      delivery.Config     `json:"delivery"`
	Retry         RetryConfig         `json:"retry"`
	Baseline      baseline.Config     `json:"baseline"`
	BaselineStore BaselineStoreConfig `json:"baseline_store"`
	Source        SourceConfig        `json:"source"`
	Mirror        MirrorConfig        `json:"mirror"`
	Smtp          *SmtpConfig         `json:"smtp"`
	Partitions    []PartitionConfig   `json:"partitions"`
	// Schedule is a standard cron spec, used by the daemon only.
	Schedule   string `json:"schedule"`
	Timezone   string `json:"timezone"`
	SampleSize int    `json:"sample_size"`
}

var defaultConfig = Config{
	Delivery: delivery.Config{
		ChunkSize:      2000,
		Concurrency:    2,
		TimeoutSeconds: delivery.DefaultTimeoutSeconds,
	},
	Retry: RetryConfig{
		MaxRetries:       retry.DefaultMaxRetries,
		BaseDelaySeconds: retry.DefaultBaseDelay.Seconds(),
		MaxDelaySeconds:  retry.DefaultMaxDelay.Seconds(),
	},
	BaselineStore: BaselineStoreConfig{
		Dir: "<dev_state>/baselines",
	},
	Schedule:   "0 3 * * *",
	SampleSize: records.DefaultSampleSize,
}

// ReadConfig reads harvest.json5 (and harvest.local.json5) from path and
// fills in defaults.
func ReadConfig(path string) (Config, error) {
	config, err := configutil.ReadConfig[Config](path)
	if err != nil {
		return Config{}, err
	}
	config, err = configutil.WithDefaults(config, defaultConfig)
	if err != nil {
		return Config{}, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	if c.Delivery.Endpoint == "" {
		return fmt.Errorf("delivery.endpoint is required")
	}
	seen := map[string]bool{}
	for i, p := range c.Partitions {
		if p.ID == "" {
			return fmt.Errorf("partitions[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("partitions[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		_, err := records.FieldsFor(p.DataType)
		if err != nil {
			return fmt.Errorf("partitions[%d]: %w", i, err)
		}
	}
	if c.Schedule != "" {
		err := chrono.ValidateSpec(c.Schedule)
		if err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}
	return nil
}
