package bookstore

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Supported backends.
const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// Defaults reproduce the bookstore exercise's fixed connection parameters.
const (
	DefaultURI              = "mongodb://localhost:27017"
	DefaultDatabase         = "plp_bookstore"
	DefaultCollection       = "books"
	DefaultConnectTimeout   = 10 * time.Second
	DefaultOperationTimeout = 30 * time.Second
	DefaultPageSize         = 5
)

// Config holds everything the runner needs to reach the store and the
// literal values plugged into the fixed query batch.
type Config struct {
	Backend          string        `toml:"backend" json:"backend"`
	URI              string        `toml:"uri" json:"uri"`
	Database         string        `toml:"database" json:"database"`
	Collection       string        `toml:"collection" json:"collection"`
	ConnectTimeout   time.Duration `toml:"connect-timeout" json:"connect-timeout"`
	OperationTimeout time.Duration `toml:"operation-timeout" json:"operation-timeout"`
	LogLevel         string        `toml:"log-level" json:"log-level"`
	LogFile          string        `toml:"log-file" json:"log-file"`
	ContinueOnError  bool          `toml:"continue-on-error" json:"continue-on-error"`

	Queries QueryConfig `toml:"queries" json:"queries"`
}

// QueryConfig carries the literals used by the operations.
type QueryConfig struct {
	Genre                 string  `toml:"genre" json:"genre"`
	PublishedAfter        int     `toml:"published-after" json:"published-after"`
	Author                string  `toml:"author" json:"author"`
	UpdateTitle           string  `toml:"update-title" json:"update-title"`
	NewPrice              float64 `toml:"new-price" json:"new-price"`
	DeleteTitle           string  `toml:"delete-title" json:"delete-title"`
	InStockPublishedAfter int     `toml:"in-stock-published-after" json:"in-stock-published-after"`
	PageSize              int64   `toml:"page-size" json:"page-size"`
	// PageSortKey gives pagination a deterministic order; _id breaks ties.
	PageSortKey  string `toml:"page-sort-key" json:"page-sort-key"`
	ExplainTitle string `toml:"explain-title" json:"explain-title"`
}

// DefaultConfig returns the configuration used when no file or flag says otherwise.
func DefaultConfig() *Config {
	return &Config{
		Backend:          BackendMongo,
		URI:              DefaultURI,
		Database:         DefaultDatabase,
		Collection:       DefaultCollection,
		ConnectTimeout:   DefaultConnectTimeout,
		OperationTimeout: DefaultOperationTimeout,
		LogLevel:         "info",
		Queries:          DefaultQueryConfig(),
	}
}

// DefaultQueryConfig returns the literals of the original query batch.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		Genre:                 "Fiction",
		PublishedAfter:        2000,
		Author:                "George Orwell",
		UpdateTitle:           "1984",
		NewPrice:              4.99,
		DeleteTitle:           "Moby Dick",
		InStockPublishedAfter: 2010,
		PageSize:              DefaultPageSize,
		PageSortKey:           "title",
		ExplainTitle:          "1984",
	}
}

// LoadConfig decodes a TOML file over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapError(ErrDecodeConfig, err, path)
	}

	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, WrapError(ErrDecodeConfig, err, path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, ErrInvalidConfig.GenWithStackByArgs("unknown keys " + strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for values the runner cannot work with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMongo, BackendMemory:
	default:
		return ErrInvalidConfig.GenWithStackByArgs("backend must be mongo or memory, got " + c.Backend)
	}
	if c.Backend == BackendMongo && c.URI == "" {
		return ErrInvalidConfig.GenWithStackByArgs("uri is required")
	}
	if c.Database == "" {
		return ErrInvalidConfig.GenWithStackByArgs("database is required")
	}
	if c.Collection == "" {
		return ErrInvalidConfig.GenWithStackByArgs("collection is required")
	}
	if c.ConnectTimeout <= 0 || c.OperationTimeout <= 0 {
		return ErrInvalidConfig.GenWithStackByArgs("timeouts must be positive")
	}
	if c.Queries.PageSize <= 0 {
		return ErrInvalidConfig.GenWithStackByArgs("queries.page-size must be positive")
	}
	if c.Queries.PageSortKey == "" {
		return ErrInvalidConfig.GenWithStackByArgs("queries.page-sort-key is required")
	}
	return nil
}

// RedactedURI returns the URI with any password masked, for logging.
func (c *Config) RedactedURI() string {
	u, err := url.Parse(c.URI)
	if err != nil {
		return "<unparseable uri>"
	}
	return u.Redacted()
}
