// Package config implements the ambient boot-time configuration loader
// (§6.5): a TOML file layered under environment variables, with defaults
// applied by a `default` struct tag exactly as the teacher's module
// configs (e.g. modules/auth/config.go) declare theirs, though the
// teacher wires its tags through a third-party feeder library we don't
// carry here — this package walks the tags directly by reflection.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the complete set of boot-time settings (§6.5).
type Config struct {
	Port            int      `toml:"port" env:"PORT" default:"3000"`
	PGURL           string   `toml:"pgUrl" env:"PG_URL"`
	SecretKey       string   `toml:"secretKey" env:"SECRET_KEY"`
	OriginWhitelist []string `toml:"originWhitelist" env:"ORIGIN_WHITELIST"`
	ModulesRoot     string   `toml:"modulesRoot" env:"MODULES_ROOT" default:"modules"`

	GoogleClientID     string `toml:"googleClientId" env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `toml:"googleClientSecret" env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `toml:"googleRedirectUrl" env:"GOOGLE_REDIRECT_URL"`

	DiscordClientID     string `toml:"discordClientId" env:"DISCORD_CLIENT_ID"`
	DiscordClientSecret string `toml:"discordClientSecret" env:"DISCORD_CLIENT_SECRET"`
	DiscordRedirectURL  string `toml:"discordRedirectUrl" env:"DISCORD_REDIRECT_URL"`
}

// Load builds a Config from, in priority order: struct defaults, the TOML
// file at path (if it exists), then environment variables. A missing TOML
// file is not an error — a fully env-driven deployment is valid.
func Load(path string) (Config, error) {
	var cfg Config
	applyDefaults(&cfg)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyDefaults sets every field carrying a `default` tag to that value,
// unconditionally; later stages (TOML, env) overwrite it.
func applyDefaults(cfg *Config) {
	walkFields(cfg, func(field reflect.Value, tag reflect.StructTag) {
		def, ok := tag.Lookup("default")
		if !ok {
			return
		}
		setField(field, def)
	})
}

// applyEnv overwrites any field whose `env` tag names a variable that is
// actually set in the process environment.
func applyEnv(cfg *Config) {
	walkFields(cfg, func(field reflect.Value, tag reflect.StructTag) {
		envName, ok := tag.Lookup("env")
		if !ok {
			return
		}
		val, present := os.LookupEnv(envName)
		if !present {
			return
		}
		setField(field, val)
	})
}

func walkFields(cfg *Config, fn func(field reflect.Value, tag reflect.StructTag)) {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		fn(v.Field(i), t.Field(i).Tag)
	}
}

func setField(field reflect.Value, raw string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			field.SetInt(n)
		}
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err == nil {
			field.SetBool(b)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		parts := strings.Split(raw, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		field.Set(reflect.ValueOf(parts))
	}
}
