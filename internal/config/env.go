package config

import (
	"errors"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ApplyEnv overlays environment variables on cfg:
//
//	BOT_TOKEN                  telegram.token
//	DATABASE_DRIVER            database.driver
//	DATABASE_DSN               database.dsn
//	DATABASE_USERNAME, DATABASE_PASSWORD, DATABASE_NAME,
//	DATABASE_HOST, DATABASE_PORT
//	                           compose a postgres DSN when DATABASE_DSN is unset
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := get("BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := get("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := get("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
		return
	}
	host, name := get("DATABASE_HOST"), get("DATABASE_NAME")
	if host == "" || name == "" {
		return
	}
	u := url.URL{Scheme: "postgres", Host: host, Path: "/" + name}
	if port := get("DATABASE_PORT"); port != "" {
		u.Host = net.JoinHostPort(host, port)
	}
	if user := get("DATABASE_USERNAME"); user != "" {
		if pw := getenv("DATABASE_PASSWORD"); pw != "" {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	if get("DATABASE_DRIVER") == "" {
		cfg.Database.Driver = "postgres"
	}
	cfg.Database.DSN = u.String()
}
