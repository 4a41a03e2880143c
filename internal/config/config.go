package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBFile      string
	AdminAddr   string
	APIAddr     string
	BaseURL     string
	UploadsPath string
	TokenExpiry time.Duration
	LogLevel    string

	EditWindow   time.Duration
	DeleteWindow time.Duration
	PageSize     int

	RedisAddr string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushSubscriber  string
}

func Load(cliMode bool) (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, err
	}

	editWindow, err := time.ParseDuration(getEnv("EDIT_WINDOW", "15m"))
	if err != nil {
		return nil, err
	}

	deleteWindow, err := time.ParseDuration(getEnv("DELETE_WINDOW", "15m"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBFile:      getEnv("PEREPISKA_DB", "perepiska.db"),
		AdminAddr:   getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:     getEnv("API_ADDR", ":8080"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		UploadsPath: getEnv("UPLOADS_PATH", "uploads"),
		TokenExpiry: tokenExpiry,
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		EditWindow:   editWindow,
		DeleteWindow: deleteWindow,
		PageSize:     50,

		RedisAddr: os.Getenv("REDIS_ADDR"),

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		PushSubscriber:  getEnv("PUSH_SUBSCRIBER", "mailto:admin@localhost"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.EditWindow <= 0 || c.DeleteWindow <= 0 {
		return fmt.Errorf("edit and delete windows must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID keys must be set together or not at all")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
