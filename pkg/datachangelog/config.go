package datachangelog

import (
	"fmt"
	"os"
	"strings"
	"time"

	customvalidator "github.com/jecitDev/jec-go-versioning/pkg/customValidator"
	dbconnect "github.com/jecitDev/jec-go-versioning/pkg/dbConnect"
	redisconnect "github.com/jecitDev/jec-go-versioning/pkg/redisConnect"
	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"gopkg.in/yaml.v2"
)

// Config represents the complete versioning configuration
type Config struct {
	Environment   string                    `yaml:"environment"`
	Database      DatabaseConfig            `yaml:"database"`
	Redis         RedisConfig               `yaml:"redis"`
	Elasticsearch ElasticsearchConfig       `yaml:"elasticsearch"`
	Timeline      TimelineConfig            `yaml:"timeline"`
	Global        GlobalConfig              `yaml:"global"`
	Entities      []versioning.EntitySchema `yaml:"entities"`
}

// DatabaseConfig selects the postgres backend. When disabled the engine keeps history in memory.
type DatabaseConfig struct {
	Enabled            bool `yaml:"enabled"`
	dbconnect.DBConfig `yaml:",inline"`
	Migrate            bool   `yaml:"migrate"`     // create live and shadow tables on startup
	UsersTable         string `yaml:"users_table"` // actor directory for timeline display names
}

// RedisConfig enables the actor display name cache
type RedisConfig struct {
	Enabled                  bool `yaml:"enabled"`
	redisconnect.RedisConfig `yaml:",inline"`
	TTL                      time.Duration `yaml:"ttl"`
	Prefix                   string        `yaml:"prefix"`
}

// ElasticsearchConfig represents Elasticsearch connection and behavior configuration
type ElasticsearchConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Addresses          []string      `yaml:"addresses" validate:"required,dive,url"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	APIKey             string        `yaml:"api_key"` // alternative to username/password
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	CACert             string        `yaml:"ca_cert"` // path to a PEM bundle
	IndexPrefix        string        `yaml:"index_prefix" validate:"required"`
	IndexPattern       string        `yaml:"index_pattern" validate:"required,contains={entity}"`
	NumWorkers         int           `yaml:"num_workers" validate:"gte=0"` // 0 writes synchronously
	BulkSize           int           `yaml:"bulk_size" validate:"gte=1"`
	MaxRetries         int           `yaml:"max_retries" validate:"gte=0"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	FlushInterval      time.Duration `yaml:"flush_interval"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	SearchSize         int           `yaml:"search_size" validate:"gte=1,lte=10000"`
}

// TimelineConfig holds the presentation defaults of GetHistory
type TimelineConfig struct {
	Timezone   string `yaml:"timezone" validate:"omitempty,timezone"`
	Layout     string `yaml:"layout"`
	SystemName string `yaml:"system_name"`
}

// GlobalConfig holds field lists applied to every entity
type GlobalConfig struct {
	IgnoredFields       []string `yaml:"ignored_fields"`   // hidden from timelines
	SensitiveFields     []string `yaml:"sensitive_fields"` // masked in the history index
	AutoDetectSensitive bool     `yaml:"auto_detect_sensitive"`
}

// LoadConfig loads the versioning configuration from YAML
func LoadConfig(configYAML []byte) (*Config, error) {
	var cfg Config

	cfg.setDefaults()

	err := yaml.Unmarshal(configYAML, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse versioning config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid versioning config: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFile reads a YAML file, expands ${VAR} references from the environment and loads it
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return LoadConfig([]byte(os.ExpandEnv(string(data))))
}

func (c *Config) setDefaults() {
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.Database.UsersTable == "" {
		c.Database.UsersTable = "users"
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 15 * time.Minute
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "versioning:actor:"
	}
	if c.Elasticsearch.NumWorkers == 0 {
		c.Elasticsearch.NumWorkers = 2
	}
	if c.Elasticsearch.BulkSize == 0 {
		c.Elasticsearch.BulkSize = 100
	}
	if c.Elasticsearch.MaxRetries == 0 {
		c.Elasticsearch.MaxRetries = 3
	}
	if c.Elasticsearch.RetryDelay == 0 {
		c.Elasticsearch.RetryDelay = 500 * time.Millisecond
	}
	if c.Elasticsearch.FlushInterval == 0 {
		c.Elasticsearch.FlushInterval = 2 * time.Second
	}
	if c.Elasticsearch.RequestTimeout == 0 {
		c.Elasticsearch.RequestTimeout = 10 * time.Second
	}
	if c.Elasticsearch.IndexPrefix == "" {
		c.Elasticsearch.IndexPrefix = "versioning-history"
	}
	if c.Elasticsearch.IndexPattern == "" {
		c.Elasticsearch.IndexPattern = "{prefix}-{entity}-{yyyy}.{MM}"
	}
	if c.Elasticsearch.SearchSize == 0 {
		c.Elasticsearch.SearchSize = 1000
	}
	if c.Timeline.Timezone == "" {
		c.Timeline.Timezone = versioning.DefaultDisplayTimezone
	}
	if c.Timeline.Layout == "" {
		c.Timeline.Layout = versioning.DefaultDisplayLayout
	}
	if c.Timeline.SystemName == "" {
		c.Timeline.SystemName = versioning.SystemDisplayName
	}
}

// Validate checks the enabled sections and every entity schema
func (c *Config) Validate() error {
	cv := customvalidator.NewCustomValidator()

	if err := cv.Validate(c.Timeline); err != nil {
		return err
	}
	if c.Database.Enabled {
		if err := cv.Validate(c.Database.DBConfig); err != nil {
			return err
		}
		if !customvalidator.IsSQLIdentifier(c.Database.UsersTable) {
			return fmt.Errorf("database users_table %q is not a sql identifier", c.Database.UsersTable)
		}
	}
	if c.Redis.Enabled {
		if err := cv.Validate(c.Redis.RedisConfig); err != nil {
			return err
		}
	}
	if c.Elasticsearch.Enabled {
		if err := cv.Validate(c.Elasticsearch); err != nil {
			return err
		}
		if c.Elasticsearch.Username == "" && c.Elasticsearch.APIKey == "" {
			return fmt.Errorf("elasticsearch authentication required: username/password or api_key")
		}
	}

	seen := make(map[string]bool)
	for _, entity := range c.Entities {
		if err := cv.Validate(entity); err != nil {
			return err
		}
		if seen[entity.Name] {
			return fmt.Errorf("entity %s is declared twice", entity.Name)
		}
		seen[entity.Name] = true
	}

	return nil
}

// GetEntity retrieves an entity schema by name
func (c *Config) GetEntity(name string) *versioning.EntitySchema {
	for i := range c.Entities {
		if c.Entities[i].Name == name {
			return &c.Entities[i]
		}
	}
	return nil
}

// TimelineOptions returns the presentation settings as timeline builder options
func (c *Config) TimelineOptions() []versioning.TimelineOption {
	return []versioning.TimelineOption{
		versioning.WithDefaultTimezone(c.Timeline.Timezone),
		versioning.WithDisplayLayout(c.Timeline.Layout),
		versioning.WithSystemDisplayName(c.Timeline.SystemName),
		versioning.WithIgnoredFields(c.Global.IgnoredFields...),
	}
}

// GetIndexName generates the Elasticsearch index name for an entity's history and a change date
func (c *Config) GetIndexName(entity string, timestamp time.Time) string {
	return c.Elasticsearch.indexName(entity, timestamp)
}

func (c ElasticsearchConfig) indexName(entity string, timestamp time.Time) string {
	timestamp = timestamp.UTC()
	r := strings.NewReplacer(
		"{prefix}", c.IndexPrefix,
		"{entity}", entity,
		"{yyyy}", fmt.Sprintf("%04d", timestamp.Year()),
		"{MM}", fmt.Sprintf("%02d", timestamp.Month()),
		"{dd}", fmt.Sprintf("%02d", timestamp.Day()),
	)
	return strings.ToLower(r.Replace(c.IndexPattern))
}

// searchPattern matches every dated index of an entity
func (c ElasticsearchConfig) searchPattern(entity string) string {
	r := strings.NewReplacer(
		"{prefix}", c.IndexPrefix,
		"{entity}", entity,
		"{yyyy}", "*",
		"{MM}", "*",
		"{dd}", "*",
	)
	return strings.ToLower(r.Replace(c.IndexPattern))
}
