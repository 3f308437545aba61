package config

import (
	"fmt"
	"sort"
)

// KeyInfo describes a config key for `branchline config show`.
type KeyInfo struct {
	Key     string
	Type    string
	EnvVar  string
	Value   string
	Default bool // value equals the built-in default
}

// ShowAll lists every non-secret key with its effective value in cfg.
func ShowAll(cfg Config) []KeyInfo {
	def := defaults()
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		v := s.extract(cfg)
		result = append(result, KeyInfo{
			Key:     s.key,
			Type:    s.typeName(),
			EnvVar:  s.env,
			Value:   fmt.Sprint(v),
			Default: v == s.extract(def),
		})
	}
	return result
}

// SetKey validates value against key's type and bounds and writes it to
// the config file.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

// UnsetKey removes key from the config file so its default applies again.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), key)
}

func lookup(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("%s is a secret; set it with the %s environment variable", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key %q (valid keys: %v)", key, ValidKeys())
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, err := lookup(key)
	if err != nil {
		return err
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s value for %s: %w", s.typeName(), key, err)
	}
	if s.typ == kInt {
		return b.SetInt(key, v.(int))
	}
	return b.SetString(key, value)
}

func unsetKeyWith(b ConfigBackend, key string) error {
	if _, err := lookup(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// ValidKeys returns the sorted non-secret key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	sort.Strings(keys)
	return keys
}
