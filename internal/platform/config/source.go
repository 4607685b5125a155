package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	systemEnv       bool
	resolver        SecretResolver
	requiredSecrets []string
	panicOnMissing  bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, systemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile points at a dotenv file; "" disables it. A missing file is ignored.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.systemEnv = false }
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// WithRequiredSecrets names config fields, e.g. "Auth.JWTSecret", that must
// resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissing = true }
}

// EnvironmentValues merges the same sources Load reads, so components built
// before Load (the secret fetcher) see identical values.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newLoaderOptions(opts).source()
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string)
	for i := len(src.layers) - 1; i >= 0; i-- {
		for k, v := range src.layers[i] {
			merged[k] = v
		}
	}
	return merged, nil
}

func (o loaderOptions) source() (*source, error) {
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	src := &source{}
	if o.envMap != nil {
		src.layers = append(src.layers, o.envMap)
	}
	if o.systemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && key != "" {
				system[key] = value
			}
		}
		src.layers = append(src.layers, system)
	}
	if dotenv != nil {
		src.layers = append(src.layers, dotenv)
	}
	return src, nil
}

// source looks keys up through layers in precedence order and records the
// config fields whose raw value failed to parse.
type source struct {
	layers  []map[string]string
	invalid []string
}

// lookup returns the first non-blank value for any of keys; earlier keys
// are the primary names, later ones legacy aliases.
func (s *source) lookup(keys ...string) (string, bool) {
	for _, key := range keys {
		for _, layer := range s.layers {
			if value, ok := layer[key]; ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
				break
			}
		}
	}
	return "", false
}

func (s *source) str(fallback string, keys ...string) string {
	if v, ok := s.lookup(keys...); ok {
		return v
	}
	return fallback
}

func (s *source) duration(field string, fallback time.Duration, keys ...string) time.Duration {
	return parsed(s, field, fallback, time.ParseDuration, keys)
}

func (s *source) ttl(field string, fallback time.Duration, keys ...string) time.Duration {
	return parsed(s, field, fallback, parseTTL, keys)
}

func (s *source) integer(field string, fallback int, keys ...string) int {
	return parsed(s, field, fallback, strconv.Atoi, keys)
}

func parsed[T any](s *source, field string, fallback T, parse func(string) (T, error), keys []string) T {
	raw, ok := s.lookup(keys...)
	if !ok {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		s.invalid = append(s.invalid, field)
		return fallback
	}
	return v
}

// parseTTL accepts Go durations and whole days ("90d").
func parseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	days, isDays := strings.CutSuffix(raw, "d")
	if !isDays {
		return time.ParseDuration(raw)
	}
	n, err := strconv.Atoi(days)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid day count %q", raw)
	}
	return time.Duration(n) * 24 * time.Hour, nil
}

// readDotEnv parses KEY=VALUE lines, allowing "export " prefixes, # comments
// and single or double quoted values.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	values := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return values, nil
}
