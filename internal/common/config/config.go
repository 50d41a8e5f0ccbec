// Package config loads the application YAML configuration with .env
// overrides for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"restohub/internal/domain"
	"restohub/internal/pricing"
)

type Database struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	User              string `yaml:"user"`
	Pass              string `yaml:"password"`
	Name              string `yaml:"database"` // tenant databases are <database>_<tenant>
	PoolSize          int32  `yaml:"pool_size"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	IdleTimeoutSec    int    `yaml:"idle_timeout_sec"`
	MigrationsPath    string `yaml:"migrations_path"`
}

func (d Database) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutSec) * time.Second
}

func (d Database) IdleTimeout() time.Duration {
	return time.Duration(d.IdleTimeoutSec) * time.Second
}

type Rabbit struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"password"`
	VHost string `yaml:"vhost"`
}

type Redis struct {
	Addr string `yaml:"addr"`
	Pass string `yaml:"password"`
	DB   int    `yaml:"db"`
}

type HTTP struct {
	Port int `yaml:"port"`
}

type Scheduler struct {
	IntervalSec int `yaml:"interval_sec"`
}

func (s Scheduler) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}

// Tenant is the raw per-tenant section.
type Tenant struct {
	Workflow          []string `yaml:"workflow"`
	TaxMode           string   `yaml:"tax_mode"`
	StrictPricingRefs bool     `yaml:"strict_pricing_refs"`
	DSN               string   `yaml:"dsn"` // optional override of the derived DSN
}

// TenantSettings is the validated form handed to the core components.
type TenantSettings struct {
	Workflow   domain.Workflow
	TaxMode    pricing.TaxMode
	StrictRefs bool
	DSN        string
}

type App struct {
	HTTP      HTTP              `yaml:"http"`
	Database  Database          `yaml:"database"`
	Rabbit    Rabbit            `yaml:"rabbitmq"`
	Redis     Redis             `yaml:"redis"`
	Scheduler Scheduler         `yaml:"scheduler"`
	Tenants   map[string]Tenant `yaml:"tenants"`

	settings map[string]TenantSettings
}

// Load reads the YAML file, applies .env/environment credential overrides
// and validates every tenant section. Invalid workflow or tax-mode values
// are rejected here, at the boundary.
func Load(path string) (*App, error) {
	_ = godotenv.Load() // optional .env, absence is fine

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	a := &App{}
	if err := yaml.Unmarshal(b, a); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(a)
	applyEnv(a)

	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func applyDefaults(a *App) {
	if a.HTTP.Port == 0 {
		a.HTTP.Port = 3000
	}
	if a.Database.Port == 0 {
		a.Database.Port = 5432
	}
	if a.Database.PoolSize == 0 {
		a.Database.PoolSize = 10
	}
	if a.Database.ConnectTimeoutSec == 0 {
		a.Database.ConnectTimeoutSec = 5
	}
	if a.Database.IdleTimeoutSec == 0 {
		a.Database.IdleTimeoutSec = 300
	}
	if a.Database.MigrationsPath == "" {
		a.Database.MigrationsPath = "migrations"
	}
	if a.Rabbit.Port == 0 {
		a.Rabbit.Port = 5672
	}
	if a.Rabbit.VHost == "" {
		a.Rabbit.VHost = "/"
	}
	if a.Redis.Addr == "" {
		a.Redis.Addr = "localhost:6379"
	}
	if a.Scheduler.IntervalSec == 0 {
		a.Scheduler.IntervalSec = 60
	}
}

func applyEnv(a *App) {
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		a.Database.Pass = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		a.Rabbit.Pass = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		a.Redis.Pass = v
	}
}

func (a *App) validate() error {
	if a.Database.Host == "" || a.Database.User == "" || a.Database.Name == "" {
		return fmt.Errorf("database config incomplete")
	}
	if a.Rabbit.Host == "" || a.Rabbit.User == "" {
		return fmt.Errorf("rabbitmq config incomplete")
	}
	if len(a.Tenants) == 0 {
		return fmt.Errorf("at least one tenant must be configured")
	}

	a.settings = make(map[string]TenantSettings, len(a.Tenants))
	for id, t := range a.Tenants {
		key := domain.NormalizeTenant(id)
		wf, err := domain.NewWorkflow(t.Workflow)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
		mode := pricing.TaxModeOrder
		if t.TaxMode != "" {
			mode, err = pricing.ParseTaxMode(t.TaxMode)
			if err != nil {
				return fmt.Errorf("tenant %s: %w", id, err)
			}
		}
		a.settings[key] = TenantSettings{
			Workflow:   wf,
			TaxMode:    mode,
			StrictRefs: t.StrictPricingRefs,
			DSN:        t.DSN,
		}
	}
	return nil
}

// Settings returns the validated settings for a tenant, if configured.
func (a *App) Settings(tenant string) (TenantSettings, bool) {
	s, ok := a.settings[domain.NormalizeTenant(tenant)]
	return s, ok
}

// TenantIDs lists the configured tenant keys in canonical form.
func (a *App) TenantIDs() []string {
	out := make([]string, 0, len(a.settings))
	for id := range a.settings {
		out = append(out, id)
	}
	return out
}
