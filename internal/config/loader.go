package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Loader reads environment variables under a common prefix.
type Loader struct {
	Prefix string
}

func NewLoader(prefix string) Loader {
	if prefix != "" && !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return Loader{Prefix: prefix}
}

func (l Loader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(l.Prefix + key))
	return v, v != ""
}

func (l Loader) String(key, def string) string {
	if v, ok := l.lookup(key); ok {
		return v
	}
	return def
}

func (l Loader) Int(key string, def int) int {
	if v, ok := l.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (l Loader) Float(key string, def float64) float64 {
	if v, ok := l.lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Duration accepts Go duration syntax ("750ms") or a number of seconds.
func (l Loader) Duration(key string, def time.Duration) time.Duration {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

func (l Loader) Bool(key string, def bool) bool {
	if v, ok := l.lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
