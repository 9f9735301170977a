package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendMongo    Backend = "mongo"
	BackendRedis    Backend = "redis"
)

type Config struct {
	Port     string
	AppEnv   string
	LogLevel string

	LedgerBackend Backend
	PromoSeedFile string

	PromoCacheRefresh      time.Duration
	PromoCacheMaxStaleness time.Duration
	LoyaltyThreshold       int
	ETAPresets             []int
	TipTargets             []string
	LedgerRetryAttempts    int
	NotifyWorkers          int
	NotifyQueueSize        int
	SubmitRatePerMinute    int
	ReconcileInterval      time.Duration

	// OpenTelemetry export; off by default
	OTelEnabled    bool
	OTelEndpoint   string
	OTelInsecure   bool
	OTelSampleRate float64
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	p := &parser{}
	cfg := Config{
		Port:                   p.str("PORT", "8080"),
		AppEnv:                 p.str("APP_ENV", "development"),
		LogLevel:               p.str("LOG_LEVEL", "info"),
		LedgerBackend:          Backend(strings.ToLower(p.str("LEDGER_BACKEND", string(BackendMemory)))),
		PromoSeedFile:          p.str("PROMO_SEED_FILE", ""),
		PromoCacheRefresh:      p.duration("PROMO_CACHE_REFRESH", 30*time.Second),
		PromoCacheMaxStaleness: p.duration("PROMO_CACHE_MAX_STALENESS", time.Minute),
		LoyaltyThreshold:       p.int("LOYALTY_THRESHOLD", 10),
		ETAPresets:             p.ints("ETA_PRESETS", []int{5, 10, 15, 20, 30}),
		TipTargets:             p.strs("TIP_TARGETS", []string{"barista", "cook"}),
		LedgerRetryAttempts:    p.int("LEDGER_RETRY_ATTEMPTS", 4),
		NotifyWorkers:          p.int("NOTIFY_WORKERS", 4),
		NotifyQueueSize:        p.int("NOTIFY_QUEUE_SIZE", 256),
		SubmitRatePerMinute:    p.int("SUBMIT_RATE_PER_MINUTE", 6),
		ReconcileInterval:      p.duration("RECONCILE_INTERVAL", time.Minute),
		OTelEnabled:            p.bool("OTEL_ENABLED", false),
		OTelEndpoint:           p.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure:           p.bool("OTEL_INSECURE", false),
		OTelSampleRate:         p.float("OTEL_SAMPLE_RATE", 1),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c Config) validate() error {
	switch c.LedgerBackend {
	case BackendMemory, BackendPostgres, BackendMongo, BackendRedis:
	default:
		return fmt.Errorf("LEDGER_BACKEND: unknown backend %q", c.LedgerBackend)
	}
	if c.LoyaltyThreshold < 0 {
		return errors.New("LOYALTY_THRESHOLD: must not be negative")
	}
	if c.LedgerRetryAttempts < 1 {
		return errors.New("LEDGER_RETRY_ATTEMPTS: must be at least 1")
	}
	if c.PromoCacheMaxStaleness < c.PromoCacheRefresh {
		return errors.New("PROMO_CACHE_MAX_STALENESS: must not be shorter than PROMO_CACHE_REFRESH")
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		return errors.New("OTEL_SAMPLE_RATE: must be between 0 and 1")
	}
	for _, p := range c.ETAPresets {
		if p < 1 {
			return fmt.Errorf("ETA_PRESETS: %d is not a positive number of minutes", p)
		}
	}
	return nil
}

type promoSeedFile struct {
	Promos []models.PromoCode `yaml:"promos"`
}

// LoadPromoSeeds reads promo codes from a YAML file of the form
//
//	promos:
//	  - code: WELCOME10
//	    discount_rate: 0.1
//	    remaining_uses: 100
func LoadPromoSeeds(path string) ([]models.PromoCode, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read promo seeds: %w", err)
	}
	var f promoSeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse promo seeds: %w", err)
	}
	for i := range f.Promos {
		p := &f.Promos[i]
		p.Code = models.NormalizeCode(p.Code)
		if p.Code == "" {
			return nil, fmt.Errorf("promo seed %d: empty code", i)
		}
		if p.DiscountRate < 0 || p.DiscountRate >= 1 {
			return nil, fmt.Errorf("promo seed %s: discount_rate must be in [0, 1)", p.Code)
		}
		if p.RemainingUses < 0 {
			return nil, fmt.Errorf("promo seed %s: remaining_uses must not be negative", p.Code)
		}
	}
	return f.Promos, nil
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) float(key string, def float64) float64 {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) ints(key string, def []int) []int {
	parts := p.strs(key, nil)
	if parts == nil {
		return def
	}
	out := make([]int, 0, len(parts))
	for _, s := range parts {
		n, err := strconv.Atoi(s)
		if err != nil {
			p.fail(key, err)
			return def
		}
		out = append(out, n)
	}
	return out
}

func (p *parser) strs(key string, def []string) []string {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
}
