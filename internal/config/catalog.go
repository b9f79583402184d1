package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CatalogConfig is the static plan and tier table consumed by the ledger.
type CatalogConfig struct {
	Cost  CostConfig   `mapstructure:"cost"`
	Tiers []TierConfig `mapstructure:"tiers"`
	Plans []PlanConfig `mapstructure:"plans"`
}

type CostConfig struct {
	// Floor is the minimum point cost of any metered response.
	Floor float64 `mapstructure:"floor"`
	// Threshold is the work-unit volume at which a response reaches the tier maximum.
	Threshold int64 `mapstructure:"threshold"`
}

type TierConfig struct {
	ID      string  `mapstructure:"id"`
	MaxCost float64 `mapstructure:"maxCost"`
}

type PlanConfig struct {
	ID            string   `mapstructure:"id"`
	MonthlyPoints float64  `mapstructure:"monthlyPoints"`
	Tiers         []string `mapstructure:"tiers"`
}

func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Cost: CostConfig{Floor: 0.3, Threshold: 1000},
		Tiers: []TierConfig{
			{ID: "sonnet", MaxCost: 1.0},
			{ID: "opus", MaxCost: 1.6},
		},
		Plans: []PlanConfig{
			{ID: "free", MonthlyPoints: 30, Tiers: []string{"sonnet"}},
			{ID: "pro", MonthlyPoints: 300, Tiers: []string{"sonnet", "opus"}},
			{ID: "team", MonthlyPoints: 5000, Tiers: []string{"sonnet", "opus"}},
		},
	}
}

// CatalogHolder keeps the current catalog and swaps it on file changes.
type CatalogHolder struct {
	current atomic.Value // holds CatalogConfig
}

// NewStaticCatalogHolder wraps an in-memory catalog; it never reloads.
func NewStaticCatalogHolder(cfg CatalogConfig) (*CatalogHolder, error) {
	if err := validateCatalogConfig(cfg); err != nil {
		return nil, err
	}
	holder := &CatalogHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewCatalogHolder(cfg Config, log *zap.Logger) (*CatalogHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.catalog")

	v := viper.New()
	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	for _, path := range cfg.CatalogPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("POINTLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("catalog file not found, using defaults")
		return NewStaticCatalogHolder(DefaultCatalogConfig())
	}

	var catalog CatalogConfig
	if err := v.UnmarshalKey("catalog", &catalog); err != nil {
		return nil, err
	}
	if err := validateCatalogConfig(catalog); err != nil {
		return nil, err
	}

	holder := &CatalogHolder{}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CatalogConfig
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Warn("catalog reload failed", zap.Error(err))
			return
		}
		if err := validateCatalogConfig(updated); err != nil {
			log.Warn("invalid catalog ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("catalog reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CatalogHolder) Get() CatalogConfig {
	return h.current.Load().(CatalogConfig)
}

func validateCatalogConfig(cfg CatalogConfig) error {
	if cfg.Cost.Floor < 0 {
		return errors.New("catalog.cost.floor cannot be negative")
	}
	if cfg.Cost.Threshold <= 0 {
		return errors.New("catalog.cost.threshold must be positive")
	}
	if len(cfg.Tiers) == 0 {
		return errors.New("catalog.tiers cannot be empty")
	}
	tiers := make(map[string]struct{}, len(cfg.Tiers))
	for _, tier := range cfg.Tiers {
		id := strings.TrimSpace(tier.ID)
		if id == "" {
			return errors.New("catalog tier id cannot be empty")
		}
		if tier.MaxCost <= 0 {
			return fmt.Errorf("catalog tier %q must have a positive maxCost", id)
		}
		tiers[id] = struct{}{}
	}
	for _, plan := range cfg.Plans {
		id := strings.TrimSpace(plan.ID)
		if id == "" {
			return errors.New("catalog plan id cannot be empty")
		}
		if plan.MonthlyPoints < 0 {
			return fmt.Errorf("catalog plan %q has negative monthlyPoints", id)
		}
		for _, tier := range plan.Tiers {
			if _, ok := tiers[strings.TrimSpace(tier)]; !ok {
				return fmt.Errorf("catalog plan %q references unknown tier %q", id, tier)
			}
		}
	}
	return nil
}
