package telegram

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	defaultSessionFile  = ".cache/telegram/session.json"
	defaultAuthTimeout  = 3 * time.Minute
	defaultRPCTimeout   = 15 * time.Second
	defaultRateLimit    = 100 * time.Millisecond
	defaultRateBurst    = 5
	defaultFloodWaitMax = time.Minute
	defaultMaxItemBytes = 10 * 1024 * 1024
)

// AuthMode selects how an unauthorized session logs in.
type AuthMode string

const (
	// AuthModeCode logs in with phone number and login code.
	AuthModeCode AuthMode = "code"
	// AuthModeQR logs in by scanning a QR token from another device.
	AuthModeQR AuthMode = "qr"
)

type runtimeConfig struct {
	AppID        int    `json:"app_id"`
	AppHash      string `json:"app_hash"`
	Phone        string `json:"phone"`
	Password     string `json:"password"`
	Code         string `json:"code"`
	SessionFile  string `json:"session_file"`
	AuthMode     string `json:"auth_mode"`
	AuthTimeout  string `json:"auth_timeout"`
	RPCTimeout   string `json:"rpc_timeout"`
	RateLimit    string `json:"rate_limit"`
	RateBurst    int    `json:"rate_burst"`
	FloodWaitMax string `json:"flood_wait_max"`
}

// Config is the validated telegram section of the application config.
type Config struct {
	AppID        int
	AppHash      string
	Phone        string
	Password     string
	Code         string
	SessionFile  string
	AuthMode     AuthMode
	AuthTimeout  time.Duration
	RPCTimeout   time.Duration
	RateLimit    time.Duration
	RateBurst    int
	FloodWaitMax time.Duration
	// MaxItemBytes caps media downloads; it follows the cache item limit.
	MaxItemBytes int64
}

// ParseConfig decodes and validates one raw telegram config section.
func ParseConfig(raw []byte) (Config, error) {
	if len(raw) == 0 {
		return Config{}, fmt.Errorf("missing config")
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := Config{
		AppID:        parsed.AppID,
		AppHash:      strings.TrimSpace(parsed.AppHash),
		Phone:        strings.TrimSpace(parsed.Phone),
		Password:     strings.TrimSpace(parsed.Password),
		Code:         strings.TrimSpace(parsed.Code),
		SessionFile:  strings.TrimSpace(parsed.SessionFile),
		AuthMode:     AuthMode(strings.ToLower(strings.TrimSpace(parsed.AuthMode))),
		AuthTimeout:  defaultAuthTimeout,
		RPCTimeout:   defaultRPCTimeout,
		RateLimit:    defaultRateLimit,
		RateBurst:    parsed.RateBurst,
		FloodWaitMax: defaultFloodWaitMax,
		MaxItemBytes: defaultMaxItemBytes,
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthModeCode
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}

	durations := []struct {
		field string
		raw   string
		into  *time.Duration
	}{
		{field: "auth_timeout", raw: parsed.AuthTimeout, into: &cfg.AuthTimeout},
		{field: "rpc_timeout", raw: parsed.RPCTimeout, into: &cfg.RPCTimeout},
		{field: "rate_limit", raw: parsed.RateLimit, into: &cfg.RateLimit},
		{field: "flood_wait_max", raw: parsed.FloodWaitMax, into: &cfg.FloodWaitMax},
	}
	for _, duration := range durations {
		value, err := parsePositiveDuration(duration.field, duration.raw)
		if err != nil {
			return Config{}, err
		}
		if value > 0 {
			*duration.into = value
		}
	}

	if cfg.AppID <= 0 {
		return Config{}, fmt.Errorf("app_id must be > 0")
	}
	if cfg.AppHash == "" {
		return Config{}, fmt.Errorf("app_hash is required")
	}
	switch cfg.AuthMode {
	case AuthModeCode, AuthModeQR:
	default:
		return Config{}, fmt.Errorf("auth_mode %q is not supported", cfg.AuthMode)
	}

	return cfg, nil
}

func parsePositiveDuration(field string, raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s: must be > 0", field)
	}

	return parsed, nil
}
