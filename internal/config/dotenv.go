package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EnvFileVar names an env file to load instead of searching for .env.
const EnvFileVar = "EPD_ENV_FILE"

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads relay settings from an env file once per process. EPD_ENV_FILE
// selects the file; otherwise the nearest .env between the working directory
// and the enclosing project root (go.mod or .git) is used. Variables already
// in the environment win.
func Ensure() error {
	// go test stays hermetic unless EPD_TEST_LOAD_DOTENV=1.
	if testing.Testing() && os.Getenv("EPD_TEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		loadedPath, loadErr = loadEnvFile(os.Getenv(EnvFileVar))
	})
	return loadErr
}

// LoadedPath returns the env file that was loaded, or "".
func LoadedPath() string {
	return loadedPath
}

func loadEnvFile(explicit string) (string, error) {
	logger := log.With().Str("component", "config").Logger()

	path := strings.TrimSpace(explicit)
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("working directory: %w", err)
		}
		path, err = findDotEnv(wd)
		if err != nil {
			logger.Debug().Err(err).Msg("search .env failed")
			return "", err
		}
		if path == "" {
			return "", nil
		}
	}

	if err := godotenv.Load(path); err != nil {
		logger.Warn().Err(err).Str("dotenv", path).Msg("load env file failed")
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	logger.Debug().Str("dotenv", path).Msg("loaded env file")
	return path, nil
}

// findDotEnv walks up from dir. It stops at the first .env, or at a project
// root so a checkout never picks up a stray file from a parent directory.
func findDotEnv(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, ".env")
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		if isProjectRoot(dir) {
			return "", nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	for _, marker := range []string{"go.mod", ".git"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
