package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvConfigPath    = "PUSHBOT_CONFIG"
	EnvTelegramToken = "PUSHBOT_TELEGRAM_TOKEN"
	EnvOwnerIDs      = "PUSHBOT_OWNER_IDS"
	EnvLogLevel      = "PUSHBOT_LOG_LEVEL"
)

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// applyEnv overlays environment variables on cfg. Secrets can then stay out
// of the config file.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if tok := strings.TrimSpace(getenv(EnvTelegramToken)); tok != "" {
		cfg.Telegram.Token = tok
	}
	if lvl := strings.TrimSpace(getenv(EnvLogLevel)); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if raw := strings.TrimSpace(getenv(EnvOwnerIDs)); raw != "" {
		var ids []int64
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return errors.New(EnvOwnerIDs + ": invalid user id " + strconv.Quote(part))
			}
			ids = append(ids, id)
		}
		cfg.Telegram.OwnerUserIDs = ids
	}
	return nil
}
