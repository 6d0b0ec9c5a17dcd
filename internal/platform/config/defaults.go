package config

import "time"

// DefaultConfig returns the baseline configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "https://api.dinero-tikee.cl",
			Timeout: 15 * time.Second,
		},
		Session: SessionConfig{
			ReverifyInterval:    5 * time.Minute,
			InactivityThreshold: 15 * time.Minute,
			ActivityThrottle:    5 * time.Second,
			ActivityPoll:        30 * time.Second,
			Store: StoreConfig{
				Driver:    "sqlite",
				Namespace: "tikee:client:",
				Cleanup:   10 * time.Minute,
				SQLite: SQLiteStore{
					DSN: "data/client.db",
				},
			},
		},
		Cache: CacheConfig{
			TTL:           10 * time.Minute,
			SweepInterval: time.Minute,
		},
		Routes: RoutesConfig{
			LoginPath:          "/login",
			PasswordChangePath: "/account/password",
			Public: []string{
				"/",
				"/login",
				"/credits/search",
				"/about",
			},
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "client.log",
		},
	}
}
