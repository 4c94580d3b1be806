package am

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/teranos/brandguard/errors"
)

// EnvFileVar names an explicit .env file to load
const EnvFileVar = "BRANDGUARD_ENV_FILE"

// envCandidates lists .env files in search order
func envCandidates() []string {
	var paths []string
	if explicit := os.Getenv(EnvFileVar); explicit != "" {
		paths = append(paths, explicit)
	}
	if found := findUpward(".env"); found != "" {
		paths = append(paths, found)
	}
	return paths
}

// LoadDotEnv loads the first .env candidate that exists into the process
// environment without overriding variables that are already set. It returns
// the file used, or "" when there was none.
func LoadDotEnv() (string, error) {
	for _, path := range envCandidates() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return "", errors.Wrapf(err, "load %s", path)
		}
		return path, nil
	}
	return "", nil
}

// findUpward returns the nearest file with this name in the working
// directory or one of its parents
func findUpward(name string) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
