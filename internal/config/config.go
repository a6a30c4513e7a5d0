package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	// Import godotenv for loading .env files
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	JWT       JWTConfig       `json:"jwt"`
	Recording RecordingConfig `json:"recording"`
	Playback  PlaybackConfig  `json:"playback"`
	Academy   AcademyConfig   `json:"academy"`
	Security  SecurityConfig  `json:"security"`
	Auth      AuthConfig      `json:"auth"`
}

type ServerConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	// WriteTimeout also bounds event streams, so it defaults to 0 (none).
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig is optional: an empty URI keeps recording metadata in
// memory.
type DatabaseConfig struct {
	URI  string `json:"-"`
	Name string `json:"name"`
}

type JWTConfig struct {
	SecretKey  string        `json:"-"`
	Expiration time.Duration `json:"expiration"`
}

type RecordingConfig struct {
	FFmpegPath        string        `json:"ffmpeg_path"`
	WebcamURL         string        `json:"webcam_url"`
	WebcamInputFormat string        `json:"webcam_input_format"`
	Dir               string        `json:"dir"`
	StopGracePeriod   time.Duration `json:"stop_grace_period"`
}

type PlaybackConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

type AcademyConfig struct {
	BaseURL string        `json:"base_url"`
	Token   string        `json:"-"`
	Timeout time.Duration `json:"timeout"`
}

type SecurityConfig struct {
	CORSOrigins []string      `json:"cors_origins"`
	RateLimit   int           `json:"rate_limit"`
	RateWindow  time.Duration `json:"rate_window"`
}

type AuthConfig struct {
	AdminUsername      string `json:"admin_username"`
	AdminPasswordHash  string `json:"-"`
	ViewerUsername     string `json:"viewer_username"`
	ViewerPasswordHash string `json:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Name: "camdesk",
		},
		JWT: JWTConfig{
			Expiration: 24 * time.Hour,
		},
		Recording: RecordingConfig{
			FFmpegPath:      "ffmpeg",
			Dir:             "storage/recordings",
			StopGracePeriod: 5 * time.Second,
		},
		Playback: PlaybackConfig{
			HeartbeatInterval: 30 * time.Second,
		},
		Academy: AcademyConfig{
			Timeout: 60 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins: []string{"*"},
			RateLimit:   100,
			RateWindow:  time.Minute,
		},
		Auth: AuthConfig{
			AdminUsername:  "admin",
			ViewerUsername: "viewer",
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional TOML file
// and environment variables (including a .env file), in that order. An
// empty path falls back to CAMDESK_CONFIG.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path == "" {
		path = os.Getenv("CAMDESK_CONFIG")
	}
	if path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := config.loadServerConfig(); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}
	config.loadDatabaseConfig()
	config.loadJWTConfig()
	config.loadRecordingConfig()
	config.loadAcademyConfig()
	config.loadSecurityConfig()
	config.loadAuthConfig()

	return config, nil
}

func (c *Config) loadServerConfig() error {
	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
		c.Server.Port = port
	}

	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.ReadTimeout = getDurationEnv("READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationEnv("WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getDurationEnv("IDLE_TIMEOUT", c.Server.IdleTimeout)
	return nil
}

func (c *Config) loadDatabaseConfig() {
	c.Database.URI = getEnv("DB_URI", c.Database.URI)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
}

func (c *Config) loadJWTConfig() {
	c.JWT.SecretKey = getEnv("JWT_SECRET", c.JWT.SecretKey)
	c.JWT.Expiration = getDurationEnv("JWT_EXPIRATION", c.JWT.Expiration)
}

func (c *Config) loadRecordingConfig() {
	c.Recording.FFmpegPath = getEnv("FFMPEG_PATH", c.Recording.FFmpegPath)
	c.Recording.WebcamURL = getEnv("WEBCAM_URL", c.Recording.WebcamURL)
	c.Recording.WebcamInputFormat = getEnv("WEBCAM_INPUT_FORMAT", c.Recording.WebcamInputFormat)
	c.Recording.Dir = getEnv("RECORDINGS_DIR", c.Recording.Dir)
	c.Recording.StopGracePeriod = getDurationEnv("STOP_GRACE_PERIOD", c.Recording.StopGracePeriod)
	c.Playback.HeartbeatInterval = getDurationEnv("HEARTBEAT_INTERVAL", c.Playback.HeartbeatInterval)
}

func (c *Config) loadAcademyConfig() {
	c.Academy.BaseURL = getEnv("ACADEMY_BASE_URL", c.Academy.BaseURL)
	c.Academy.Token = getEnv("ACADEMY_TOKEN", c.Academy.Token)
	c.Academy.Timeout = getDurationEnv("ACADEMY_TIMEOUT", c.Academy.Timeout)
}

func (c *Config) loadSecurityConfig() {
	if corsOriginsStr := os.Getenv("CORS_ORIGINS"); corsOriginsStr != "" {
		c.Security.CORSOrigins = splitList(corsOriginsStr)
	}
	c.Security.RateLimit = getIntEnv("RATE_LIMIT", c.Security.RateLimit)
	c.Security.RateWindow = getDurationEnv("RATE_WINDOW", c.Security.RateWindow)
}

func (c *Config) loadAuthConfig() {
	c.Auth.AdminUsername = getEnv("ADMIN_USERNAME", c.Auth.AdminUsername)
	c.Auth.AdminPasswordHash = getEnv("ADMIN_PASSWORD_HASH", c.Auth.AdminPasswordHash)
	c.Auth.ViewerUsername = getEnv("VIEWER_USERNAME", c.Auth.ViewerUsername)
	c.Auth.ViewerPasswordHash = getEnv("VIEWER_PASSWORD_HASH", c.Auth.ViewerPasswordHash)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("jwt secret key is required")
	}
	if c.Recording.Dir == "" {
		return fmt.Errorf("recordings directory is required")
	}
	if c.Recording.WebcamURL == "" {
		return fmt.Errorf("webcam url is required")
	}
	if c.Recording.StopGracePeriod <= 0 {
		return fmt.Errorf("stop grace period must be positive")
	}
	if c.Playback.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Auth.AdminUsername == "" || c.Auth.AdminPasswordHash == "" {
		return fmt.Errorf("admin username and password hash are required")
	}
	if c.Security.RateLimit < 0 {
		return fmt.Errorf("rate limit must be >= 0")
	}
	return nil
}

// fileConfig mirrors the TOML layout. Durations are Go duration strings
// such as "5s"; zero values leave the current setting alone.
type fileConfig struct {
	Server struct {
		Port         int    `toml:"port"`
		Host         string `toml:"host"`
		ReadTimeout  string `toml:"read_timeout"`
		WriteTimeout string `toml:"write_timeout"`
		IdleTimeout  string `toml:"idle_timeout"`
	} `toml:"server"`
	Database struct {
		URI  string `toml:"uri"`
		Name string `toml:"name"`
	} `toml:"database"`
	JWT struct {
		Secret     string `toml:"secret"`
		Expiration string `toml:"expiration"`
	} `toml:"jwt"`
	Recording struct {
		FFmpegPath        string `toml:"ffmpeg_path"`
		WebcamURL         string `toml:"webcam_url"`
		WebcamInputFormat string `toml:"webcam_input_format"`
		Dir               string `toml:"dir"`
		StopGracePeriod   string `toml:"stop_grace_period"`
	} `toml:"recording"`
	Playback struct {
		HeartbeatInterval string `toml:"heartbeat_interval"`
	} `toml:"playback"`
	Academy struct {
		BaseURL string `toml:"base_url"`
		Token   string `toml:"token"`
		Timeout string `toml:"timeout"`
	} `toml:"academy"`
	Security struct {
		CORSOrigins []string `toml:"cors_origins"`
		RateLimit   int      `toml:"rate_limit"`
		RateWindow  string   `toml:"rate_window"`
	} `toml:"security"`
	Auth struct {
		AdminUsername      string `toml:"admin_username"`
		AdminPasswordHash  string `toml:"admin_password_hash"`
		ViewerUsername     string `toml:"viewer_username"`
		ViewerPasswordHash string `toml:"viewer_password_hash"`
	} `toml:"auth"`
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f fileConfig
	if err := toml.Unmarshal(b, &f); err != nil {
		return err
	}

	if f.Server.Port != 0 {
		c.Server.Port = f.Server.Port
	}
	setString(&c.Server.Host, f.Server.Host)
	setString(&c.Database.URI, f.Database.URI)
	setString(&c.Database.Name, f.Database.Name)
	setString(&c.JWT.SecretKey, f.JWT.Secret)
	setString(&c.Recording.FFmpegPath, f.Recording.FFmpegPath)
	setString(&c.Recording.WebcamURL, f.Recording.WebcamURL)
	setString(&c.Recording.WebcamInputFormat, f.Recording.WebcamInputFormat)
	setString(&c.Recording.Dir, f.Recording.Dir)
	setString(&c.Academy.BaseURL, f.Academy.BaseURL)
	setString(&c.Academy.Token, f.Academy.Token)
	setString(&c.Auth.AdminUsername, f.Auth.AdminUsername)
	setString(&c.Auth.AdminPasswordHash, f.Auth.AdminPasswordHash)
	setString(&c.Auth.ViewerUsername, f.Auth.ViewerUsername)
	setString(&c.Auth.ViewerPasswordHash, f.Auth.ViewerPasswordHash)
	if len(f.Security.CORSOrigins) > 0 {
		c.Security.CORSOrigins = f.Security.CORSOrigins
	}
	if f.Security.RateLimit != 0 {
		c.Security.RateLimit = f.Security.RateLimit
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"server.read_timeout", f.Server.ReadTimeout, &c.Server.ReadTimeout},
		{"server.write_timeout", f.Server.WriteTimeout, &c.Server.WriteTimeout},
		{"server.idle_timeout", f.Server.IdleTimeout, &c.Server.IdleTimeout},
		{"jwt.expiration", f.JWT.Expiration, &c.JWT.Expiration},
		{"recording.stop_grace_period", f.Recording.StopGracePeriod, &c.Recording.StopGracePeriod},
		{"playback.heartbeat_interval", f.Playback.HeartbeatInterval, &c.Playback.HeartbeatInterval},
		{"academy.timeout", f.Academy.Timeout, &c.Academy.Timeout},
		{"security.rate_window", f.Security.RateWindow, &c.Security.RateWindow},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
