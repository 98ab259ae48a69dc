package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tgview/internal/cache"
	"tgview/internal/digest"
	"tgview/internal/kernel"
	"tgview/internal/telegram"
	"tgview/internal/web"
	"tgview/pkg/llm"
	llmconfig "tgview/pkg/llm/config"
	"tgview/pkg/llm/providers/gemini"
	"tgview/pkg/llm/providers/openai"
	"tgview/pkg/tgview"
)

const (
	envConfigFile           = "TGVIEW_CONFIG_FILE"
	defaultConfigFilePath   = "config/tgview.json"
	alternateConfigFilePath = "bin/config/tgview.json"
	defaultShutdownTimeout  = 10 * time.Second
	defaultCacheDir         = ".cache/media"
)

type appConfig struct {
	logLevel        slog.Level
	shutdownTimeout time.Duration

	http     httpConfig
	telegram telegram.Config
	cache    cacheConfig
	web      webConfig
	llm      llmconfig.Config
}

type httpConfig struct {
	listen            string
	readHeaderTimeout time.Duration
	requestTimeout    time.Duration
}

type cacheConfig struct {
	dir           string
	maxAge        time.Duration
	sweepInterval time.Duration
	maxItemBytes  int64
	maxPhotos     int
}

type webConfig struct {
	accessPassword string
	pageSize       int
	maxPageSize    int
	maxUploadBytes int64
}

type fileConfig struct {
	LogLevel string           `json:"log_level"`
	Kernel   fileKernelConfig `json:"kernel"`
	HTTP     fileHTTPConfig   `json:"http"`
	Telegram json.RawMessage  `json:"telegram"`
	Cache    fileCacheConfig  `json:"cache"`
	Web      fileWebConfig    `json:"web"`
	LLM      json.RawMessage  `json:"llm"`
}

type fileKernelConfig struct {
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type fileHTTPConfig struct {
	Listen            string `json:"listen"`
	ReadHeaderTimeout string `json:"read_header_timeout"`
	RequestTimeout    string `json:"request_timeout"`
}

type fileCacheConfig struct {
	Dir           string `json:"dir"`
	MaxAge        string `json:"max_age"`
	SweepInterval string `json:"sweep_interval"`
	MaxItemBytes  *int64 `json:"max_item_bytes"`
	MaxPhotos     *int   `json:"max_photos"`
}

type fileWebConfig struct {
	AccessPassword string `json:"access_password"`
	PageSize       *int   `json:"page_size"`
	MaxPageSize    *int   `json:"max_page_size"`
	MaxUploadBytes *int64 `json:"max_upload_bytes"`
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	kernelRuntime, err := buildKernelRuntime(logger, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

func loadConfig() (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:        slog.LevelInfo,
		shutdownTimeout: defaultShutdownTimeout,
		cache: cacheConfig{
			dir:           defaultCacheDir,
			maxAge:        cache.DefaultMaxAge,
			sweepInterval: cache.DefaultSweepInterval,
			maxItemBytes:  cache.DefaultMaxItemBytes,
			maxPhotos:     cache.DefaultMaxPhotos,
		},
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	durations := []struct {
		field string
		raw   string
		into  *time.Duration
	}{
		{field: "kernel.shutdown_timeout", raw: parsed.Kernel.ShutdownTimeout, into: &cfg.shutdownTimeout},
		{field: "http.read_header_timeout", raw: parsed.HTTP.ReadHeaderTimeout, into: &cfg.http.readHeaderTimeout},
		{field: "http.request_timeout", raw: parsed.HTTP.RequestTimeout, into: &cfg.http.requestTimeout},
		{field: "cache.max_age", raw: parsed.Cache.MaxAge, into: &cfg.cache.maxAge},
		{field: "cache.sweep_interval", raw: parsed.Cache.SweepInterval, into: &cfg.cache.sweepInterval},
	}
	for _, duration := range durations {
		if err := parseDurationField(duration.field, duration.raw, duration.into); err != nil {
			return err
		}
	}

	cfg.http.listen = strings.TrimSpace(parsed.HTTP.Listen)
	if dir := strings.TrimSpace(parsed.Cache.Dir); dir != "" {
		cfg.cache.dir = dir
	}
	if parsed.Cache.MaxItemBytes != nil {
		if *parsed.Cache.MaxItemBytes <= 0 {
			return fmt.Errorf("parse cache.max_item_bytes: must be > 0")
		}
		cfg.cache.maxItemBytes = *parsed.Cache.MaxItemBytes
	}
	if parsed.Cache.MaxPhotos != nil {
		if *parsed.Cache.MaxPhotos <= 0 {
			return fmt.Errorf("parse cache.max_photos: must be > 0")
		}
		cfg.cache.maxPhotos = *parsed.Cache.MaxPhotos
	}

	if err := applyWebConfig(&cfg.web, parsed.Web); err != nil {
		return err
	}

	telegramConfig, err := telegram.ParseConfig(parsed.Telegram)
	if err != nil {
		return fmt.Errorf("parse telegram: %w", err)
	}
	telegramConfig.MaxItemBytes = cfg.cache.maxItemBytes
	cfg.telegram = telegramConfig

	llmConfig, err := llmconfig.Parse(parsed.LLM)
	if err != nil {
		return fmt.Errorf("parse llm: %w", err)
	}
	cfg.llm = llmConfig

	return nil
}

func applyWebConfig(cfg *webConfig, parsed fileWebConfig) error {
	cfg.accessPassword = parsed.AccessPassword
	if parsed.PageSize != nil {
		if *parsed.PageSize <= 0 {
			return fmt.Errorf("parse web.page_size: must be > 0")
		}
		cfg.pageSize = *parsed.PageSize
	}
	if parsed.MaxPageSize != nil {
		if *parsed.MaxPageSize <= 0 {
			return fmt.Errorf("parse web.max_page_size: must be > 0")
		}
		cfg.maxPageSize = *parsed.MaxPageSize
	}
	if cfg.pageSize > 0 && cfg.maxPageSize > 0 && cfg.pageSize > cfg.maxPageSize {
		return fmt.Errorf("parse web.page_size: must be <= web.max_page_size")
	}
	if parsed.MaxUploadBytes != nil {
		if *parsed.MaxUploadBytes <= 0 {
			return fmt.Errorf("parse web.max_upload_bytes: must be > 0")
		}
		cfg.maxUploadBytes = *parsed.MaxUploadBytes
	}

	return nil
}

func parseDurationField(field string, raw string, into *time.Duration) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	value, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	if value <= 0 {
		return fmt.Errorf("parse %s: must be > 0", field)
	}
	*into = value

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

// buildKernelRuntime wires the telegram runtime, caches, digest and web server
// into one kernel.
func buildKernelRuntime(logger *slog.Logger, cfg appConfig) (*kernel.Kernel, error) {
	media, err := cache.NewMediaCache(
		cfg.cache.dir,
		cache.WithMaxAge(cfg.cache.maxAge),
		cache.WithSweepInterval(cfg.cache.sweepInterval),
		cache.WithMaxItemBytes(cfg.cache.maxItemBytes),
		cache.WithMediaLogger(logger.With("component", "media-cache")),
	)
	if err != nil {
		return nil, fmt.Errorf("build media cache: %w", err)
	}
	photos := cache.NewPhotoCache(cache.WithMaxPhotos(cfg.cache.maxPhotos))

	telegramRuntime, err := telegram.NewRuntime(cfg.telegram, telegram.WithLogger(logger.With("component", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("build telegram runtime: %w", err)
	}
	gateway := telegramRuntime.Gateway()
	groups := cache.NewGroupCache(gateway.ListGroups, cache.WithGroupLoadTimeout(cfg.http.requestTimeout))

	serverOptions := []web.Option{
		web.WithLogger(logger.With("component", "web")),
		web.WithListenAddr(cfg.http.listen),
		web.WithReadHeaderTimeout(cfg.http.readHeaderTimeout),
		web.WithRequestTimeout(cfg.http.requestTimeout),
		web.WithPageSize(cfg.web.pageSize, cfg.web.maxPageSize),
		web.WithMaxUploadBytes(cfg.web.maxUploadBytes),
		web.WithAccessPassword(cfg.web.accessPassword),
	}
	summarizer, err := buildSummarizer(cfg.llm)
	if err != nil {
		return nil, err
	}
	if summarizer != nil {
		serverOptions = append(serverOptions, web.WithSummarizer(summarizer))
	}

	server, err := web.NewServer(gateway, groups, media, photos, serverOptions...)
	if err != nil {
		return nil, fmt.Errorf("build web server: %w", err)
	}

	kernelRuntime := kernel.New(
		kernel.WithLogger(logger.With("component", "kernel")),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
	)
	components := []kernel.Component{
		kernel.ComponentFunc("telegram", telegramRuntime.Run),
		kernel.ComponentWithShutdown("media-cache", media.Run, func(ctx context.Context) error {
			evicted, err := media.Evict(ctx)
			if err != nil {
				return fmt.Errorf("final media sweep: %w", err)
			}
			logger.InfoContext(ctx, "media cache swept on shutdown", "evicted", evicted)
			return nil
		}),
		kernel.ComponentFunc("web", server.Run),
	}
	for _, component := range components {
		if err := kernelRuntime.Register(component); err != nil {
			return nil, fmt.Errorf("register %s: %w", component.Name(), err)
		}
	}

	return kernelRuntime, nil
}

// buildSummarizer returns nil when no digest provider is configured.
func buildSummarizer(cfg llmconfig.Config) (*digest.Summarizer, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	registry, err := buildLLMRegistry(cfg)
	if err != nil {
		return nil, err
	}

	summarizer, err := digest.New(
		registry,
		digest.WithProvider(cfg.Provider),
		digest.WithModel(cfg.Model),
		digest.WithMaxOutputTokens(cfg.MaxOutputTokens),
		digest.WithTemperature(cfg.Temperature),
		digest.WithTimeout(cfg.RequestTimeout),
		digest.WithSystemPrompt(cfg.SystemPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("build digest summarizer: %w", err)
	}

	return summarizer, nil
}

func buildLLMRegistry(cfg llmconfig.Config) (*llm.Registry, error) {
	providers := make(map[string]tgview.LLMProvider, len(cfg.Providers))
	for key, profile := range cfg.Providers {
		provider, err := buildLLMProvider(profile)
		if err != nil {
			return nil, fmt.Errorf("build llm provider %s: %w", key, err)
		}
		providers[key] = provider
	}

	registry, err := llm.NewRegistry(providers)
	if err != nil {
		return nil, fmt.Errorf("build llm registry: %w", err)
	}

	return registry, nil
}

func buildLLMProvider(profile llmconfig.ProviderProfile) (tgview.LLMProvider, error) {
	switch profile.Type {
	case llmconfig.ProviderTypeOpenAI:
		providerConfig := openai.ProviderConfig{
			APIKey:  profile.APIKey,
			BaseURL: profile.BaseURL,
		}
		if profile.OpenAI != nil {
			providerConfig.Organization = profile.OpenAI.Organization
			providerConfig.Project = profile.OpenAI.Project
			providerConfig.MaxRetries = profile.OpenAI.MaxRetries
			providerConfig.ReasoningEffort = profile.OpenAI.ReasoningEffort
		}
		return openai.New(providerConfig)
	case llmconfig.ProviderTypeGemini:
		providerConfig := gemini.ProviderConfig{
			APIKey:  profile.APIKey,
			BaseURL: profile.BaseURL,
		}
		if profile.Gemini != nil {
			providerConfig.APIVersion = profile.Gemini.APIVersion
			providerConfig.ThinkingBudget = profile.Gemini.ThinkingBudget
			providerConfig.ThinkingLevel = profile.Gemini.ThinkingLevel
		}
		return gemini.New(providerConfig)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", profile.Type)
	}
}
