package main

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/karstnet/karst/pkg/secrets"
)

type config struct {
	Host         string
	Port         string
	PublicHost   string
	DataDir      string
	ProfilePath  string
	BootstrapURL string
	SharedSecret string
	MaxInflight  int
}

func loadConfig() config {
	_ = godotenv.Load()
	cfg := config{
		Host:         getEnv("KARST_HOST", "0.0.0.0"),
		Port:         getEnv("KARST_PORT", "7040"),
		PublicHost:   getEnv("KARST_PUBLIC_HOST", ""),
		DataDir:      getEnv("KARST_DATA_DIR", "data"),
		ProfilePath:  getEnv("KARST_PROFILE", ""),
		BootstrapURL: getEnv("KARST_BOOTSTRAP_URL", ""),
		SharedSecret: secrets.Load("KARST_SHARED_SECRET", "devsecret"),
		MaxInflight:  getEnvInt("KARST_MAX_INFLIGHT", 256),
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = "127.0.0.1:" + cfg.Port
	}
	return cfg
}

func (c config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "routing.json")
}

func (c config) StoreDir() string {
	return filepath.Join(c.DataDir, "records")
}

func (c config) IdentityPath() string {
	return filepath.Join(c.DataDir, "identity")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
