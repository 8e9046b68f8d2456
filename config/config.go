package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir  string
	DBPath   string
	LogLevel string
	LogFile  string
	ProxyURL string

	EstatesPath string
	Browser     BrowserConfig
	Harvest     HarvestConfig
	Scheduler   SchedulerConfig
	Postgres    PostgresConfig
	S3          S3Config
	VPN         VPNConfig
	Site        *SiteConfig
}

type BrowserConfig struct {
	Driver        string // playwright or chromedp
	Headless      bool
	ExecPath      string
	ClickAttempts int
	SettleTimeout time.Duration
	PollInterval  time.Duration
}

type HarvestConfig struct {
	RetryDelay        time.Duration
	RequestsPerSecond float64
	CheckpointBackend string // file or sqlite
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

// VPNConfig turns on exit rotation after a rate limit.
type VPNConfig struct {
	Rotate  bool
	Command string
	Regions []string
}

type PostgresConfig struct {
	URL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// SiteConfig describes the remote site: its API endpoints, the headers the
// API expects, and the selector of the element that reveals transactions.
type SiteConfig struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Endpoints      map[string]string `yaml:"endpoints"`
	Headers        map[string]string `yaml:"headers"`
	TransactionTab string            `yaml:"transaction_selector"`
	PostType       string            `yaml:"post_type"`
	UserAgent      string            `yaml:"user_agent"`
}

const (
	EndpointConsumptionTable  = "consumption_table"
	EndpointTransactionSearch = "transaction_search"
)

func DefaultSite() *SiteConfig {
	return &SiteConfig{
		ID:   "centanet",
		Name: "Centaline Property",
		Endpoints: map[string]string{
			EndpointConsumptionTable:  "https://hk.centanet.com/findproperty/api/Transaction/ConsumptionTable",
			EndpointTransactionSearch: "https://hk.centanet.com/findproperty/api/Transaction/Search",
		},
		Headers: map[string]string{
			"Accept-Language": "en-US,en;q=0.5",
			"Lang":            "en",
		},
		TransactionTab: "div.transaction-record-tab",
		PostType:       "SecondHand",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")
	cfg := &Config{
		DataDir:     dataDir,
		DBPath:      getEnv("DB_PATH", filepath.Join(dataDir, "harvest.db")),
		LogLevel:    getEnv("LOGLEVEL", getEnv("LOG_LEVEL", "info")),
		LogFile:     getEnv("LOG_FILE", "harvest.log"),
		ProxyURL:    os.Getenv("PROXY_URL"),
		EstatesPath: getEnv("ESTATES_PATH", filepath.Join(dataDir, "estates.xlsx")),
		Browser: BrowserConfig{
			Driver:        getEnv("BROWSER_DRIVER", "playwright"),
			Headless:      getEnv("HEADLESS", "true") == "true",
			ExecPath:      os.Getenv("CHROME_BIN"),
			ClickAttempts: getEnvInt("CLICK_ATTEMPTS", 3),
			SettleTimeout: getEnvDuration("SETTLE_TIMEOUT", 10*time.Second),
			PollInterval:  getEnvDuration("POLL_INTERVAL", 250*time.Millisecond),
		},
		Harvest: HarvestConfig{
			RetryDelay:        getEnvDuration("HARVEST_RETRY_DELAY", 60*time.Second),
			RequestsPerSecond: getEnvFloat("HARVEST_RATE", 2),
			CheckpointBackend: getEnv("CHECKPOINT_BACKEND", "file"),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SCRAPE_CRON"),
			Interval: getEnvDuration("SCRAPE_INTERVAL", 0),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "ap-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("S3_PREFIX", "estate-harvester"),
		},
		VPN: VPNConfig{
			Rotate:  getEnv("VPN_ROTATE", "false") == "true",
			Command: getEnv("VPN_COMMAND", "expressvpnctl"),
			Regions: splitList(getEnv("VPN_REGIONS", "smart")),
		},
	}

	site, err := LoadSite(getEnv("SITE_CONFIG", "config/site.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Site = site

	return cfg, nil
}

// SetDataDir re-roots every path that defaulted to the data directory.
func (c *Config) SetDataDir(dir string) {
	if dir == "" || dir == c.DataDir {
		return
	}
	if c.DBPath == filepath.Join(c.DataDir, "harvest.db") {
		c.DBPath = filepath.Join(dir, "harvest.db")
	}
	if c.EstatesPath == filepath.Join(c.DataDir, "estates.xlsx") {
		c.EstatesPath = filepath.Join(dir, "estates.xlsx")
	}
	c.DataDir = dir
}

func (c *Config) UnitCodesPath() string    { return filepath.Join(c.DataDir, "unit_codes.csv") }
func (c *Config) ManualGatherPath() string { return filepath.Join(c.DataDir, "manual_gather.csv") }
func (c *Config) CheckpointPath() string   { return filepath.Join(c.DataDir, "next_start.txt") }
func (c *Config) RecordsDir() string       { return filepath.Join(c.DataDir, "records") }
func (c *Config) SummaryPath() string      { return filepath.Join(c.DataDir, "summary_data.csv") }

// LoadSite reads the site YAML file, filling anything it leaves out from
// DefaultSite. A missing file yields the defaults.
func LoadSite(path string) (*SiteConfig, error) {
	site := DefaultSite()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return site, nil
		}
		return nil, err
	}

	var override SiteConfig
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, err
	}

	if override.ID != "" {
		site.ID = override.ID
	}
	if override.Name != "" {
		site.Name = override.Name
	}
	for k, v := range override.Endpoints {
		site.Endpoints[k] = v
	}
	for k, v := range override.Headers {
		site.Headers[k] = v
	}
	if override.TransactionTab != "" {
		site.TransactionTab = override.TransactionTab
	}
	if override.PostType != "" {
		site.PostType = override.PostType
	}
	if override.UserAgent != "" {
		site.UserAgent = override.UserAgent
	}

	return site, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
