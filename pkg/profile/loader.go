package profile

import (
	"fmt"
	"os"
	"regexp"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var envRe = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`) // Searching for environment variables to substitute.

// Load reads a profile YAML, expanding ${VAR} placeholders from the
// environment. Fields left zero fall back to Default values.
func Load(path string, logger *zap.Logger) (Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	b = envRe.ReplaceAllFunc(b, func(m []byte) []byte {
		k := string(envRe.FindSubmatch(m)[1])
		val := os.Getenv(k)
		if val == "" {
			logger.Warn("env variable is empty during profile expansion",
				zap.String("file", path),
				zap.String("var", k))
		}
		return []byte(val)
	})
	if envRe.Match(b) {
		logger.Error("unresolved ${VAR} placeholders left after env expansion",
			zap.String("file", path))
	}

	p := Default()
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (p Profile) Validate() error {
	if p.CloseGroupSize < 1 {
		return fmt.Errorf("closeGroupSize must be at least 1")
	}
	if p.QuorumFraction <= 0 || p.QuorumFraction > 1 {
		return fmt.Errorf("quorumFraction must be in (0, 1]")
	}
	if p.FailureThreshold < 1 {
		return fmt.Errorf("failureThreshold must be at least 1")
	}
	if p.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}
	return nil
}
