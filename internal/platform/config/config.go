package config

import "time"

type Config struct {
	API      APIConfig      `yaml:"api"`
	Session  SessionConfig  `yaml:"session"`
	Cache    CacheConfig    `yaml:"cache"`
	Routes   RoutesConfig   `yaml:"routes"`
	Log      LogConfig      `yaml:"log"`
}

// APIConfig points the client at the remote dinero-tikee service.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	ReverifyInterval    time.Duration `yaml:"reverify_interval"`
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`
	ActivityThrottle    time.Duration `yaml:"activity_throttle"`
	ActivityPoll        time.Duration `yaml:"activity_poll"`
	Store               StoreConfig   `yaml:"store"`
}

// StoreConfig selects the durable client store driver.
type StoreConfig struct {
	Driver    string        `yaml:"driver"`
	Namespace string        `yaml:"namespace"`
	Cleanup   time.Duration `yaml:"cleanup"`
	SQLite    SQLiteStore   `yaml:"sqlite,omitempty"`
	Redis     RedisStore    `yaml:"redis,omitempty"`
}

type SQLiteStore struct {
	DSN string `yaml:"dsn,omitempty"`
}

type RedisStore struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RoutesConfig drives the route guard decisions.
type RoutesConfig struct {
	LoginPath          string   `yaml:"login_path"`
	PasswordChangePath string   `yaml:"password_change_path"`
	Public             []string `yaml:"public"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}
