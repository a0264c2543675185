// Package secrets loads deployment secrets and keeps them out of log
// output.
package secrets

import (
	"os"
	"strings"
	"sync"
)

var (
	once          sync.Once
	sensitiveEnvs []string

	envNameSensitivePatterns = []string{
		"SECRET", "TOKEN", "PASSWORD", "API_KEY", "PRIVATE_KEY",
	}
)

// Load resolves a secret: a NAME_FILE env pointing at a file wins over
// the NAME env itself, so secrets can be mounted instead of exported.
func Load(name, def string) string {
	if path := os.Getenv(name + "_FILE"); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func initSensitiveEnvs() {
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name, val := parts[0], parts[1]
		up := strings.ToUpper(name)
		for _, pat := range envNameSensitivePatterns {
			if strings.Contains(up, pat) && val != "" {
				sensitiveEnvs = append(sensitiveEnvs, val)
				break
			}
		}
	}
}

// Redact replaces any secret-bearing env value occurring in s, so
// startup banners and error strings can be logged as-is.
func Redact(s string) string {
	once.Do(initSensitiveEnvs)
	for _, val := range sensitiveEnvs {
		if val == "" {
			continue
		}
		s = strings.ReplaceAll(s, val, "[HIDDEN]")
	}
	return s
}
