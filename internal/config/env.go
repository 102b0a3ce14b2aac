package config

import (
	"strconv"
	"strings"
	"time"
)

// env reads one variable; os.Getenv in production, a map in tests.
type env func(key string) string

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e env) str(key, def string) string {
	if v := strings.TrimSpace(e(key)); v != "" {
		return v
	}
	return def
}

func (e env) int(key string, def int, errs *[]string) int {
	v := strings.TrimSpace(e(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, key+" must be an integer")
		return def
	}
	return n
}

func (e env) bool(key string, def bool, errs *[]string) bool {
	v := strings.TrimSpace(e(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, key+" must be a boolean")
		return def
	}
	return b
}

func (e env) duration(key string, def time.Duration, errs *[]string) time.Duration {
	v := strings.TrimSpace(e(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, key+" must be a duration like 24h or 90m")
		return def
	}
	return d
}
