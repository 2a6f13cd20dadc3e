package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// duration accepts "30s" style strings as well as integer nanoseconds.
type duration struct {
	set bool
	d   time.Duration
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		d.d = time.Duration(x)
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		d.d = parsed
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	d.set = true
	return nil
}

func (d duration) apply(dst *time.Duration) {
	if d.set {
		*dst = d.d
	}
}

type configAlias Config

// loadFile overlays the keys present in the JSON file at path.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	aux := struct {
		*configAlias
		S3PresignTTL      duration `json:"s3_presign_ttl"`
		ImageCacheTTL     duration `json:"image_cache_ttl"`
		FetchTimeout      duration `json:"fetch_timeout"`
		ReconcileInterval duration `json:"reconcile_interval"`
	}{configAlias: (*configAlias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	aux.S3PresignTTL.apply(&c.S3PresignTTL)
	aux.ImageCacheTTL.apply(&c.ImageCacheTTL)
	aux.FetchTimeout.apply(&c.FetchTimeout)
	aux.ReconcileInterval.apply(&c.ReconcileInterval)
	return nil
}

// configFile finds the value of -c/-config (single or double dash, separate
// or "=" form) in args.
func configFile(args []string) string {
	path := ""
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || (name != "c" && name != "config") {
			continue
		}
		if hasValue {
			path = value
			continue
		}
		if i+1 < len(args) {
			path = args[i+1]
			i++
		}
	}
	return path
}
