package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	check   func(v any) error // optional bounds check on the parsed value
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "BRANCHLINE_SERVER_PORT",
		check:   validPort,
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "BRANCHLINE_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BRANCHLINE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "BRANCHLINE_LOG_LEVEL",
		check:   validLevel,
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "cache.max_age", typ: kDuration, env: "BRANCHLINE_CACHE_MAX_AGE",
		check:   positiveDuration,
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxAge = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.MaxAge },
	},
	{
		key: "cache.max_entries", typ: kInt, env: "BRANCHLINE_CACHE_MAX_ENTRIES",
		check:   positiveInt,
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxEntries },
	},
	{
		key: "cache.cleanup_interval", typ: kDuration, env: "BRANCHLINE_CACHE_CLEANUP_INTERVAL",
		check:   positiveDuration,
		apply:   func(cfg *Config, v any) { cfg.Cache.CleanupInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.CleanupInterval },
	},
	{
		key: "controller.debounce_delay", typ: kDuration, env: "BRANCHLINE_CONTROLLER_DEBOUNCE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Controller.DebounceDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Controller.DebounceDelay },
	},
	{
		key: "controller.auto_recalculate", typ: kBool, env: "BRANCHLINE_CONTROLLER_AUTO_RECALCULATE",
		apply:   func(cfg *Config, v any) { cfg.Controller.AutoRecalculate = v.(bool) },
		extract: func(cfg Config) any { return cfg.Controller.AutoRecalculate },
	},
	{
		key: "viewport.buffer", typ: kFloat, env: "BRANCHLINE_VIEWPORT_BUFFER",
		check:   nonNegativeFloat,
		apply:   func(cfg *Config, v any) { cfg.Viewport.Buffer = v.(float64) },
		extract: func(cfg Config) any { return cfg.Viewport.Buffer },
	},
	{
		key: "viewport.scroll_delay", typ: kDuration, env: "BRANCHLINE_VIEWPORT_SCROLL_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Viewport.ScrollDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Viewport.ScrollDelay },
	},
	{
		key: "viewport.height", typ: kFloat, env: "BRANCHLINE_VIEWPORT_HEIGHT",
		check:   positiveFloat,
		apply:   func(cfg *Config, v any) { cfg.Viewport.Height = v.(float64) },
		extract: func(cfg Config) any { return cfg.Viewport.Height },
	},
	{
		key: "layout.style_file", typ: kString, env: "BRANCHLINE_LAYOUT_STYLE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Layout.StyleFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Layout.StyleFile },
	},
	{
		key: "sync.poll_interval", typ: kDuration, env: "BRANCHLINE_SYNC_POLL_INTERVAL",
		check:   positiveDuration,
		apply:   func(cfg *Config, v any) { cfg.Sync.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.PollInterval },
	},
}

// parse converts a raw string to the key's type and runs its check.
func (s keySpec) parse(raw string) (any, error) {
	var (
		v   any
		err error
	)
	switch s.typ {
	case kString:
		v = raw
	case kInt:
		v, err = strconv.Atoi(raw)
	case kBool:
		v, err = strconv.ParseBool(raw)
	case kFloat:
		v, err = strconv.ParseFloat(raw, 64)
	case kDuration:
		v, err = parseDuration(raw)
	}
	if err != nil {
		return nil, err
	}
	return v, s.validate(v)
}

func (s keySpec) validate(v any) error {
	if s.check == nil {
		return nil
	}
	return s.check(v)
}

func (s keySpec) typeName() string {
	switch s.typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

// applyBackend reads every non-secret key from b. Integers are stored as
// JSON numbers and a malformed one is an error; other values that fail to
// parse keep their current value with a warning.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}

		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok {
				continue
			}
			if err := s.validate(v); err != nil {
				warnInvalid("config key "+s.key, v, err, s.extract(*cfg))
				continue
			}
			s.apply(cfg, v)
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			warnInvalid("config key "+s.key, raw, err, s.extract(*cfg))
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			warnInvalid("env var "+s.env, raw, err, s.extract(*cfg))
			continue
		}
		s.apply(cfg, v)
	}
}

func warnInvalid(source string, raw any, err error, kept any) {
	fmt.Fprintf(os.Stderr, "[WARN] ignoring %s=%q: %v. Keeping %v.\n", source, fmt.Sprint(raw), err, kept)
}

func validPort(v any) error {
	if p := v.(int); p < 1 || p > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", p)
	}
	return nil
}

func validLevel(v any) error {
	switch strings.ToLower(v.(string)) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("unknown log level %q", v)
}

func positiveInt(v any) error {
	if v.(int) <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func positiveFloat(v any) error {
	if v.(float64) <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func nonNegativeFloat(v any) error {
	if v.(float64) < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func positiveDuration(v any) error {
	if v.(time.Duration) <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

// parseDuration accepts Go duration strings and rejects negatives.
func parseDuration(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", v)
	}
	return d, nil
}
