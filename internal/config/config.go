package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/comfortindex/comfort-dashboard/internal/models"
	"github.com/comfortindex/comfort-dashboard/internal/validation"
)

// UserSeed is one pre-registered account from the secrets file.
type UserSeed struct {
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration

	CacheTTL     time.Duration
	CacheBackend string // "in_memory", "memcached" or "redis"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRPS   int
	RateLimitBurst int

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerCoolOff          time.Duration

	JWTSecret string
	TokenTTL  time.Duration
	Users     []UserSeed

	CitiesPath string
	Cities     []models.City

	WarmOnStart  bool
	WarmInterval time.Duration

	HealthWindow   time.Duration
	HealthErrorPct int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Pipeline struct {
		CoalesceEnabled bool   `yaml:"coalesce_enabled"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		WarmOnStart     bool   `yaml:"warm_on_start"`
		WarmInterval    string `yaml:"warm_interval"`
	} `yaml:"pipeline"`

	Reliability struct {
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		BreakerEnabled   bool   `yaml:"breaker_enabled"`
		BreakerFailures  int    `yaml:"breaker_failures"`
		BreakerSuccesses int    `yaml:"breaker_successes"`
		BreakerCoolOff   string `yaml:"breaker_cool_off"`
		HealthWindow     string `yaml:"health_window"`
		HealthErrorPct   int    `yaml:"health_error_pct"`
	} `yaml:"reliability"`

	Auth struct {
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`

	Cities struct {
		Path string `yaml:"path"`
	} `yaml:"cities"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey string     `yaml:"weather_api_key"`
	JWTSecret     string     `yaml:"jwt_secret"`
	Users         []UserSeed `yaml:"users"`
}

// cityFile matches the static city list's JSON shape.
type cityFile struct {
	List []models.City `json:"List"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml, applies env overrides (WEATHER_API_KEY, JWT_SECRET,
// CACHE_BACKEND), and loads the static city list once. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "5000"
	}

	var sec secretsFile
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	secretsData, err := os.ReadFile(secretsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		cfg.WeatherAPIKey = sec.WeatherAPIKey
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = sec.JWTSecret
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET required (set env or config/secrets.yaml jwt_secret)")
	}
	cfg.Users = sec.Users

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	cfg.WeatherAPITimeout = parseDuration(fc.WeatherAPI.Timeout, 2*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = strings.TrimSpace(fc.Cache.Redis.Addr)
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = fc.Cache.Redis.Password
	cfg.RedisDB = fc.Cache.Redis.DB

	cfg.CoalesceEnabled = fc.Pipeline.CoalesceEnabled
	cfg.CoalesceTimeout = parseDuration(fc.Pipeline.CoalesceTimeout, 30*time.Second)
	cfg.WarmOnStart = fc.Pipeline.WarmOnStart
	cfg.WarmInterval = parseDurationOrZero(fc.Pipeline.WarmInterval, 0)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.CircuitBreakerEnabled = fc.Reliability.BreakerEnabled
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.BreakerFailures
	cfg.CircuitBreakerSuccessThreshold = fc.Reliability.BreakerSuccesses
	cfg.CircuitBreakerCoolOff = parseDuration(fc.Reliability.BreakerCoolOff, 30*time.Second)
	cfg.HealthWindow = parseDuration(fc.Reliability.HealthWindow, 60*time.Second)
	cfg.HealthErrorPct = fc.Reliability.HealthErrorPct
	if cfg.HealthErrorPct <= 0 {
		cfg.HealthErrorPct = 50
	}

	cfg.TokenTTL = parseDuration(fc.Auth.TokenTTL, time.Hour)

	cfg.CitiesPath = fc.Cities.Path
	if cfg.CitiesPath == "" {
		cfg.CitiesPath = filepath.Join("config", "cities.json")
	}
	if !filepath.IsAbs(cfg.CitiesPath) {
		cfg.CitiesPath = filepath.Join(cwd, cfg.CitiesPath)
	}
	cfg.Cities, err = LoadCities(cfg.CitiesPath)
	if err != nil {
		return nil, err
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadCities reads the static ordered city list. Order in the file is the
// pipeline's fetch order and the tie-break order for equal scores.
func LoadCities(path string) ([]models.City, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read city list: %w", err)
	}
	var cf cityFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse city list: %w", err)
	}
	if len(cf.List) == 0 {
		return nil, fmt.Errorf("city list is empty: %s", path)
	}
	for i, c := range cf.List {
		code, err := validation.ValidateCityCode(c.Code)
		if err != nil {
			return nil, fmt.Errorf("city list entry %d: %w", i, err)
		}
		name, err := validation.ValidateCityName(c.Name)
		if err != nil {
			return nil, fmt.Errorf("city list entry %d (%s): %w", i, code, err)
		}
		cf.List[i] = models.City{Code: code, Name: name}
	}
	return cf.List, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on
// empty string or parse error. Zero and negative results pass through.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		// A request may fan out to every city sequentially; make sure the
		// handler deadline can cover at least a few upstream calls.
		cfg.RequestTimeout = cfg.WeatherAPITimeout*time.Duration(len(cfg.Cities)) + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	for i, u := range cfg.Users {
		if strings.TrimSpace(u.Email) == "" || strings.TrimSpace(u.PasswordHash) == "" {
			return fmt.Errorf("secrets users entry %d: email and password_hash are required", i)
		}
	}
	return nil
}
