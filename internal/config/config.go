package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/pfrederiksen/city-events/internal/fetch"
	"github.com/pfrederiksen/city-events/internal/logger"
	"github.com/pfrederiksen/city-events/internal/notifier"
	"github.com/pfrederiksen/city-events/internal/storage"
)

// ErrUnknownCity is returned when a city key is not in the configured table
var ErrUnknownCity = errors.New("unknown city")

// Notification backends
const (
	NotifyNone    = "none"
	NotifyDryRun  = "dryrun"
	NotifyTwitter = "twitter"
)

// City maps a user-facing key to its display name and platform code
type City struct {
	Key  string `yaml:"key" json:"key"`   // mumbai
	Name string `yaml:"name" json:"name"` // Mumbai
	Code string `yaml:"code" json:"code"` // listing path segment, e.g. ncr for delhi
}

type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"` // doubled after each failed attempt
}

type ChallengeConfig struct {
	Rounds int           `yaml:"rounds"`
	Delay  time.Duration `yaml:"delay"` // used when the page gives no hint
}

type BrowserConfig struct {
	Settle time.Duration `yaml:"settle"`
	Path   string        `yaml:"path"` // optional; auto-detected when empty
}

type FetchConfig struct {
	Strategies     []string        `yaml:"strategies"` // priority order
	Timeout        time.Duration   `yaml:"timeout"`    // per strategy
	MinLinks       int             `yaml:"min_links"`  // fewer event links counts as empty content
	UserAgent      string          `yaml:"user_agent"`
	AcceptLanguage string          `yaml:"accept_language"`
	Referer        string          `yaml:"referer"`
	Retry          RetryConfig     `yaml:"retry"`
	Challenge      ChallengeConfig `yaml:"challenge"`
	Browser        BrowserConfig   `yaml:"browser"`
}

type ExtractConfig struct {
	MaxFragments int           `yaml:"max_fragments"`
	EventDelay   time.Duration `yaml:"event_delay"` // pause between normalized events
}

type SheetsConfig struct {
	ID          string `yaml:"id"`
	Credentials string `yaml:"credentials"` // service account JSON file
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"` // host:port, no scheme
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type StorageConfig struct {
	Backend string        `yaml:"backend"` // csv | sheets | mysql
	Dir     string        `yaml:"dir"`
	Sheets  SheetsConfig  `yaml:"sheets"`
	MySQL   MySQLConfig   `yaml:"mysql"`
	Archive ArchiveConfig `yaml:"archive"`
}

// Job is one scheduled scrape: a cron spec and the cities it covers
type Job struct {
	Name   string   `yaml:"name"`
	Spec   string   `yaml:"spec"` // standard 5-field cron or @every/@daily descriptors
	Cities []string `yaml:"cities"`
}

type ScheduleConfig struct {
	Jobs        []Job  `yaml:"jobs"`
	MetricsAddr string `yaml:"metrics_addr"`
	Parallel    int    `yaml:"parallel"` // cities scraped at once
}

type NotifyConfig struct {
	Backend  string               `yaml:"backend"` // none | dryrun | twitter
	MaxPosts int                  `yaml:"max_posts"`
	Twitter  notifier.Credentials `yaml:"-"` // env only
}

// Config is the full application configuration
type Config struct {
	BaseURL     string         `yaml:"base_url"`
	ListingPath string         `yaml:"listing_path"` // {code} is replaced with the city code
	LogLevel    string         `yaml:"log_level"`
	Cities      []City         `yaml:"cities"`
	Fetch       FetchConfig    `yaml:"fetch"`
	Extract     ExtractConfig  `yaml:"extract"`
	Storage     StorageConfig  `yaml:"storage"`
	Schedule    ScheduleConfig `yaml:"schedule"`
	Notify      NotifyConfig   `yaml:"notify"`
}

// DefaultCities is the city table used when the config file names none
func DefaultCities() []City {
	return []City{
		{Key: "mumbai", Name: "Mumbai", Code: "mumbai"},
		{Key: "delhi", Name: "Delhi", Code: "ncr"},
		{Key: "bangalore", Name: "Bangalore", Code: "bengaluru"},
		{Key: "hyderabad", Name: "Hyderabad", Code: "hyderabad"},
		{Key: "pune", Name: "Pune", Code: "pune"},
		{Key: "kolkata", Name: "Kolkata", Code: "kolkata"},
		{Key: "chennai", Name: "Chennai", Code: "chennai"},
	}
}

// Default returns the configuration used when no file is given
func Default() *Config {
	f := fetch.DefaultConfig()
	return &Config{
		BaseURL:     "https://in.bookmyshow.com",
		ListingPath: "/explore/events-{code}",
		LogLevel:    string(logger.LevelInfo),
		Cities:      DefaultCities(),
		Fetch: FetchConfig{
			Strategies:     append([]string(nil), fetch.DefaultOrder...),
			Timeout:        15 * time.Second,
			MinLinks:       1,
			UserAgent:      f.UserAgent,
			AcceptLanguage: f.AcceptLanguage,
			Referer:        f.Referer,
			Retry:          RetryConfig{Attempts: f.RetryAttempts, BaseDelay: f.RetryBaseDelay},
			Challenge:      ChallengeConfig{Rounds: f.ChallengeRounds, Delay: f.ChallengeDelay},
			Browser:        BrowserConfig{Settle: f.BrowserSettle},
		},
		Extract: ExtractConfig{
			MaxFragments: 30,
			EventDelay:   300 * time.Millisecond,
		},
		Storage: StorageConfig{
			Backend: storage.BackendCSV,
			Dir:     "output",
		},
		Schedule: ScheduleConfig{
			Jobs: []Job{
				{Name: "daily", Spec: "0 9 * * *", Cities: []string{"mumbai", "delhi", "bangalore"}},
				{Name: "mumbai-frequent", Spec: "0 */6 * * *", Cities: []string{"mumbai"}},
			},
			MetricsAddr: ":9102",
			Parallel:    2,
		},
		Notify: NotifyConfig{
			Backend:  NotifyNone,
			MaxPosts: notifier.DefaultMaxPosts,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path uses the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file without overriding ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides secrets and a few switches from the environment
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.LogLevel, "CITY_EVENTS_LOG_LEVEL")
	set(&c.Storage.Backend, "CITY_EVENTS_STORAGE_BACKEND")
	set(&c.Storage.Sheets.ID, "CITY_EVENTS_SHEETS_ID")
	set(&c.Storage.Sheets.Credentials, "CITY_EVENTS_SHEETS_CREDENTIALS")
	set(&c.Storage.MySQL.DSN, "CITY_EVENTS_MYSQL_DSN")
	set(&c.Storage.Archive.AccessKey, "CITY_EVENTS_ARCHIVE_ACCESS_KEY")
	set(&c.Storage.Archive.SecretKey, "CITY_EVENTS_ARCHIVE_SECRET_KEY")

	set(&c.Notify.Twitter.APIKey, "TWITTER_API_KEY")
	set(&c.Notify.Twitter.APISecret, "TWITTER_API_SECRET")
	set(&c.Notify.Twitter.AccessToken, "TWITTER_ACCESS_TOKEN")
	set(&c.Notify.Twitter.AccessSecret, "TWITTER_ACCESS_SECRET")
}

// Validate checks the configuration for values the application cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base_url is required")
	}
	if !strings.Contains(c.ListingPath, "{code}") {
		return fmt.Errorf("listing_path %q must contain {code}", c.ListingPath)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if len(c.Cities) == 0 {
		return errors.New("at least one city is required")
	}
	keys := make(map[string]bool, len(c.Cities))
	for _, city := range c.Cities {
		key := strings.ToLower(strings.TrimSpace(city.Key))
		if key == "" || strings.TrimSpace(city.Code) == "" {
			return fmt.Errorf("city %+v needs a key and a code", city)
		}
		if keys[key] {
			return fmt.Errorf("duplicate city key %q", city.Key)
		}
		keys[key] = true
	}

	if err := c.validateFetch(); err != nil {
		return err
	}

	if c.Extract.MaxFragments <= 0 {
		return fmt.Errorf("extract.max_fragments must be positive, got %d", c.Extract.MaxFragments)
	}
	if c.Extract.EventDelay < 0 {
		return errors.New("extract.event_delay cannot be negative")
	}

	switch c.Storage.Backend {
	case storage.BackendCSV, storage.BackendSheets, storage.BackendMySQL:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Archive.Endpoint != "" {
		if err := c.StorageConfig().Archive.Validate(); err != nil {
			return err
		}
	}

	for _, job := range c.Schedule.Jobs {
		if _, err := cron.ParseStandard(job.Spec); err != nil {
			return fmt.Errorf("schedule job %q: %w", job.Name, err)
		}
		if len(job.Cities) == 0 {
			return fmt.Errorf("schedule job %q has no cities", job.Name)
		}
		for _, key := range job.Cities {
			if !keys[strings.ToLower(key)] {
				return fmt.Errorf("schedule job %q: %w: %q", job.Name, ErrUnknownCity, key)
			}
		}
	}
	if c.Schedule.Parallel <= 0 {
		return fmt.Errorf("schedule.parallel must be positive, got %d", c.Schedule.Parallel)
	}

	switch c.Notify.Backend {
	case "", NotifyNone, NotifyDryRun, NotifyTwitter:
	default:
		return fmt.Errorf("unknown notify backend %q", c.Notify.Backend)
	}

	return nil
}

func (c *Config) validateFetch() error {
	known := make(map[string]bool, len(fetch.DefaultOrder))
	for _, name := range fetch.DefaultOrder {
		known[name] = true
	}
	for _, name := range c.Fetch.Strategies {
		if !known[name] {
			return fmt.Errorf("unknown fetch strategy %q", name)
		}
	}

	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	if c.Fetch.MinLinks <= 0 {
		return fmt.Errorf("fetch.min_links must be positive, got %d", c.Fetch.MinLinks)
	}
	if c.Fetch.Retry.Attempts <= 0 {
		return fmt.Errorf("fetch.retry.attempts must be positive, got %d", c.Fetch.Retry.Attempts)
	}
	if c.Fetch.Challenge.Rounds <= 0 {
		return fmt.Errorf("fetch.challenge.rounds must be positive, got %d", c.Fetch.Challenge.Rounds)
	}
	return nil
}

// City looks up a city by key, case-insensitively
func (c *Config) City(key string) (City, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, city := range c.Cities {
		if strings.ToLower(city.Key) == key {
			return city, nil
		}
	}
	return City{}, fmt.Errorf("%w: %q", ErrUnknownCity, key)
}

// CityKeys returns the configured city keys in table order
func (c *Config) CityKeys() []string {
	keys := make([]string, len(c.Cities))
	for i, city := range c.Cities {
		keys[i] = city.Key
	}
	return keys
}

// ListingURL returns the listing page URL for a city
func (c *Config) ListingURL(city City) string {
	return strings.TrimRight(c.BaseURL, "/") + strings.ReplaceAll(c.ListingPath, "{code}", city.Code)
}

// FetchConfig converts the fetch section for the strategy constructors
func (c *Config) FetchConfig() fetch.Config {
	return fetch.Config{
		UserAgent:       c.Fetch.UserAgent,
		AcceptLanguage:  c.Fetch.AcceptLanguage,
		Referer:         c.Fetch.Referer,
		RetryAttempts:   c.Fetch.Retry.Attempts,
		RetryBaseDelay:  c.Fetch.Retry.BaseDelay,
		ChallengeRounds: c.Fetch.Challenge.Rounds,
		ChallengeDelay:  c.Fetch.Challenge.Delay,
		BrowserSettle:   c.Fetch.Browser.Settle,
		BrowserPath:     c.Fetch.Browser.Path,
	}
}

// StorageConfig converts the storage section for storage.Open
func (c *Config) StorageConfig() storage.Config {
	a := c.Storage.Archive
	return storage.Config{
		Backend:           c.Storage.Backend,
		Dir:               c.Storage.Dir,
		SheetsID:          c.Storage.Sheets.ID,
		SheetsCredentials: c.Storage.Sheets.Credentials,
		MySQLDSN:          c.Storage.MySQL.DSN,
		Archive: storage.ArchiveConfig{
			Endpoint:  a.Endpoint,
			AccessKey: a.AccessKey,
			SecretKey: a.SecretKey,
			Region:    a.Region,
			Bucket:    a.Bucket,
			UseSSL:    a.UseSSL,
		},
	}
}
