package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageBadger = "badger"
)

type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"local" validate:"oneof=local dev prod"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Catalog CatalogConfig `yaml:"catalog"`
	OMDB    OMDBConfig    `yaml:"omdb"`
	LLM     LLMConfig     `yaml:"llm"`
	Feed    FeedConfig    `yaml:"feed"`
	WS      WSConfig      `yaml:"ws"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	SessionSecret  string   `yaml:"session_secret" env:"SECRET_KEY" env-default:""`
	CookieName     string   `yaml:"cookie_name" env-default:"npc_session"`
	// AllowedOrigins lists cross-origin callers. Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StorageConfig struct {
	Driver    string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"file" validate:"oneof=memory file badger"`
	Path      string `yaml:"path" env-default:"data/rooms.json"`
	BadgerDir string `yaml:"badger_dir" env-default:"data/badger"`
	// WipeOnStart is a pointer so an explicit false in YAML survives the
	// default.
	WipeOnStart *bool `yaml:"wipe_on_start"`
}

type CatalogConfig struct {
	Path string `yaml:"path" env:"CATALOG_PATH" env-default:"data/movies.csv" validate:"required"`
}

type OMDBConfig struct {
	BaseURL   string        `yaml:"base_url" env-default:"https://www.omdbapi.com/" validate:"url"`
	APIKey    string        `yaml:"api_key" env:"OMDB_API_KEY" env-default:""`
	Timeout   time.Duration `yaml:"timeout" env-default:"3s" validate:"gt=0"`
	CacheSize int64         `yaml:"cache_size" env-default:"4096" validate:"gte=0"`
}

type LLMConfig struct {
	BaseURL   string        `yaml:"base_url" env-default:"https://ai.hackclub.com/proxy/v1/chat/completions" validate:"url"`
	APIKey    string        `yaml:"api_key" env:"AI_API_KEY" env-default:""`
	Model     string        `yaml:"model" env-default:"google/gemini-2.5-flash"`
	MaxTokens int           `yaml:"max_tokens" env-default:"8000" validate:"gt=0"`
	Timeout   time.Duration `yaml:"timeout" env-default:"20s" validate:"gt=0"`
}

type FeedConfig struct {
	// Seed fixes the feed randomness; 0 seeds from the clock.
	Seed int64 `yaml:"seed" env:"FEED_SEED" env-default:"0"`
	// Priority picks the initial feed pool: none, rating, year or a title substring.
	Priority string `yaml:"priority" env:"FEED_PRIORITY" env-default:"rating"`
	MinYear  int    `yaml:"min_year" env:"FEED_MIN_YEAR" env-default:"0" validate:"gte=0"`
}

type WSConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second" env-default:"10" validate:"gt=0"`
	Burst             int     `yaml:"burst" env-default:"20" validate:"gt=0"`
}

// MustLoad resolves the config path from the flag value, CONFIG_PATH or the
// local default, and panics when the file cannot be loaded.
func MustLoad(flagPath string) *Config {
	configPath := fetchConfigPath(flagPath)
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	cfg, err := LoadPath(configPath)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

func LoadPath(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func fetchConfigPath(flagPath string) string {
	res := flagPath

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.CookieName == "" {
		c.HTTP.CookieName = "npc_session"
	}
	if c.Storage.WipeOnStart == nil {
		wipe := true
		c.Storage.WipeOnStart = &wipe
	}
}

func (s StorageConfig) Wipe() bool {
	return s.WipeOnStart == nil || *s.WipeOnStart
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config field %s: failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Env == "prod" && len(c.HTTP.SessionSecret) < 32 {
		return errors.New("invalid config: http.session_secret must be at least 32 bytes in prod")
	}
	return nil
}
