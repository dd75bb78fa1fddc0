package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	API      APIConfig
	Crawl    CrawlConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Proxies  ProxyConfig
}

type APIConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// CrawlConfig is the crawl engine's immutable configuration snapshot —
// replaced atomically on update, never mutated in place.
type CrawlConfig struct {
	MaxPages       int
	MaxDepth       int
	RequestTimeout time.Duration

	FollowRedirects bool
	MaxRedirects    int
	UserAgent       string

	RespectRobotsTxt     bool
	RestrictToSeedDomain bool

	StoreRawContent    bool
	IncludeFullContent bool
	ExtractTextContent bool

	SpaRenderingEnabled   bool
	BrowserlessGatewayURL string

	// InsecureSkipTLSVerify disables TLS certificate verification on the
	// direct fetch path. Development use only.
	InsecureSkipTLSVerify bool

	MaxRetries             int
	BaseRetryDelay         time.Duration
	MaxRetryDelay          time.Duration
	RetryBackoffMultiplier float64

	PerDomainInterval              time.Duration
	CircuitBreakerFailureThreshold int
	CircuitBreakerOpenDuration     time.Duration

	// TestMode clamps the robots Crawl-delay to 10ms so politeness-heavy
	// suites finish quickly. Never set true by defaults.
	TestMode bool
}

type DatabaseConfig struct {
	FilePath string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type ProxyConfig struct {
	Enabled bool
	URLs    []string
	APIKey  string
	APIUrl  string
}

// Load loads configuration from config file, environment variables, and .env file
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env file doesn't exist

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading the config file: %w", err)
		}
	}

	// Setup environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Special handling for proxy URLs as a comma-separated list
	if proxyList := os.Getenv("PROXY_URLS"); proxyList != "" {
		cfg.Proxies.Enabled = true
		cfg.Proxies.URLs = strings.Split(proxyList, ",")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.readTimeout", 30*time.Second)
	v.SetDefault("api.writeTimeout", 30*time.Second)
	v.SetDefault("api.shutdownTimeout", 10*time.Second)

	v.SetDefault("crawl.maxPages", 1000)
	v.SetDefault("crawl.maxDepth", 3)
	v.SetDefault("crawl.requestTimeout", 30*time.Second)
	v.SetDefault("crawl.followRedirects", true)
	v.SetDefault("crawl.maxRedirects", 10)
	v.SetDefault("crawl.userAgent", "SearchEngineCrawler/1.0")
	v.SetDefault("crawl.respectRobotsTxt", true)
	v.SetDefault("crawl.restrictToSeedDomain", false)
	v.SetDefault("crawl.storeRawContent", true)
	v.SetDefault("crawl.includeFullContent", false)
	v.SetDefault("crawl.extractTextContent", true)
	v.SetDefault("crawl.spaRenderingEnabled", false)
	v.SetDefault("crawl.browserlessGatewayUrl", "")
	v.SetDefault("crawl.insecureSkipTlsVerify", false)
	v.SetDefault("crawl.maxRetries", 3)
	v.SetDefault("crawl.baseRetryDelay", 1*time.Second)
	v.SetDefault("crawl.maxRetryDelay", 300*time.Second)
	v.SetDefault("crawl.retryBackoffMultiplier", 2.0)
	v.SetDefault("crawl.perDomainInterval", 0)
	v.SetDefault("crawl.circuitBreakerFailureThreshold", 5)
	v.SetDefault("crawl.circuitBreakerOpenDuration", 60*time.Second)
	v.SetDefault("crawl.testMode", false)

	v.SetDefault("database.filepath", "./data/scraper.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("proxies.enabled", false)
	v.SetDefault("proxies.urls", []string{})
	v.SetDefault("proxies.apiKey", "")
	v.SetDefault("proxies.apiUrl", "")
}

func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
