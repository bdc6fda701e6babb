package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Pipefy  PipefyConfig  `yaml:"pipefy"`
	D4Sign  D4SignConfig  `yaml:"d4sign"`
	Vaults  VaultsConfig  `yaml:"vaults"`
	Lock    LockConfig    `yaml:"lock"`
	Store   StoreConfig   `yaml:"store"`
	Archive ArchiveConfig `yaml:"archive"`
	Auth    AuthConfig    `yaml:"auth"`
	Users   []User        `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// PhasePolicy values: whether the card moves to the destination phase even
// when document generation failed.
const (
	PhasePolicyAlways    = "always"
	PhasePolicyOnSuccess = "on-success"
)

type PipefyConfig struct {
	APIURL             string `yaml:"api_url"`
	Token              string `yaml:"token"`
	LinkFieldID        string `yaml:"link_field_id"`
	DestinationPhaseID string `yaml:"destination_phase_id"`
	PhasePolicy        string `yaml:"phase_policy"`
}

// AbortPolicy values: what happens to the remaining document kinds after a
// creation failure.
const (
	AbortPolicyAbort    = "abort"
	AbortPolicyContinue = "continue"
)

type D4SignConfig struct {
	APIURL             string           `yaml:"api_url"`
	Token              string           `yaml:"token"`
	CryptKey           string           `yaml:"crypt_key"`
	DefaultSafeID      string           `yaml:"default_safe_id"`
	CompanySignerEmail string           `yaml:"company_signer_email"`
	AbortPolicy        string           `yaml:"abort_policy"`
	Documents          []DocumentConfig `yaml:"documents"`
}

// DocumentConfig is one document kind to generate, in configured order.
// The primary document's link is the one written back to the card.
type DocumentConfig struct {
	Kind       string `yaml:"kind"`
	TemplateID string `yaml:"template_id"`
	Primary    bool   `yaml:"primary"`
}

// VaultsConfig maps a salesperson display name to a D4Sign safe UUID.
// Keys are matched after lowercasing and diacritics stripping.
type VaultsConfig map[string]string

type LockConfig struct {
	Driver        string `yaml:"driver"` // memory, redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLMinutes    int    `yaml:"ttl_minutes"`
}

type StoreConfig struct {
	Driver          string `yaml:"driver"` // memory, postgres
	DSN             string `yaml:"dsn"`
	MaxRuns         int    `yaml:"max_runs"`
	RetentionDays   int    `yaml:"retention_days"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether run reports should be archived at all.
func (c *ArchiveConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Pipefy.APIURL == "" {
		cfg.Pipefy.APIURL = "https://api.pipefy.com/graphql"
	}
	if cfg.Pipefy.LinkFieldID == "" {
		cfg.Pipefy.LinkFieldID = "documentos"
	}
	if cfg.Pipefy.PhasePolicy == "" {
		cfg.Pipefy.PhasePolicy = PhasePolicyAlways
	}
	if cfg.D4Sign.APIURL == "" {
		cfg.D4Sign.APIURL = "https://secure.d4sign.com.br/api/v1"
	}
	if cfg.D4Sign.AbortPolicy == "" {
		cfg.D4Sign.AbortPolicy = AbortPolicyAbort
	}
	if cfg.Lock.Driver == "" {
		cfg.Lock.Driver = "memory"
	}
	if cfg.Lock.TTLMinutes == 0 {
		cfg.Lock.TTLMinutes = 5
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.MaxRuns == 0 {
		cfg.Store.MaxRuns = 100
	}
	if cfg.Store.RetentionDays == 0 {
		cfg.Store.RetentionDays = 90
	}
	if cfg.Store.CleanupSchedule == "" {
		cfg.Store.CleanupSchedule = "0 3 * * *"
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// Validate checks enum values and the document list shape. Credentials are
// deliberately not required here: a missing credential is reported per run,
// so operators can tell "misconfigured" from "provider unavailable".
func (c *Config) Validate() error {
	switch c.Pipefy.PhasePolicy {
	case PhasePolicyAlways, PhasePolicyOnSuccess:
	default:
		return fmt.Errorf("invalid pipefy.phase_policy %q", c.Pipefy.PhasePolicy)
	}

	switch c.D4Sign.AbortPolicy {
	case AbortPolicyAbort, AbortPolicyContinue:
	default:
		return fmt.Errorf("invalid d4sign.abort_policy %q", c.D4Sign.AbortPolicy)
	}

	switch c.Lock.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid lock.driver %q", c.Lock.Driver)
	}

	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("invalid store.driver %q", c.Store.Driver)
	}

	primaries := 0
	for i, doc := range c.D4Sign.Documents {
		if doc.Kind == "" {
			return fmt.Errorf("d4sign.documents[%d]: kind is required", i)
		}
		if doc.Primary {
			primaries++
		}
	}
	if len(c.D4Sign.Documents) > 0 && primaries != 1 {
		return fmt.Errorf("d4sign.documents: exactly one document must be primary, got %d", primaries)
	}

	return nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}

// PrimaryKind returns the kind name of the primary document, or "".
func (c *D4SignConfig) PrimaryKind() string {
	for _, doc := range c.Documents {
		if doc.Primary {
			return doc.Kind
		}
	}
	return ""
}
