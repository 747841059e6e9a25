package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	AdapterDocumentInternationalization = "document-internationalization"
	AdapterFieldLanguage                = "field"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"NP_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"NP_DB_MAX_CONNS" default:"8"`

	PhraseUserName     string `envconfig:"PHRASE_USER_NAME" default:""`
	PhrasePassword     string `envconfig:"PHRASE_PASSWORD" default:""`
	PhraseRegion       string `envconfig:"PHRASE_REGION" default:"eu"`
	PhraseTemplateUID  string `envconfig:"PHRASE_TEMPLATE_UID" default:""`
	PhraseWebhookToken string `envconfig:"PHRASE_WEBHOOK_TOKEN" default:""`

	TranslatableTypes string `envconfig:"TRANSLATABLE_TYPES" default:""`
	I18nAdapter       string `envconfig:"I18N_ADAPTER" default:"document-internationalization"`
	I18nLanguageField string `envconfig:"I18N_LANGUAGE_FIELD" default:"language"`
	SourceLang        string `envconfig:"SOURCE_LANG" default:"en"`

	ReferenceMaxDepth        int           `envconfig:"REFERENCE_MAX_DEPTH" default:"3"`
	ReferenceDraftPrecedence bool          `envconfig:"REFERENCE_DRAFT_PRECEDENCE" default:"true"`
	JobCreatedDelay          time.Duration `envconfig:"JOB_CREATED_DELAY" default:"1s"`
	CreateConcurrency        int           `envconfig:"CREATE_CONCURRENCY" default:"2"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("NP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NP_DB_MIN_CONNS (%d) cannot exceed NP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	switch strings.ToLower(strings.TrimSpace(c.PhraseRegion)) {
	case "eu", "us":
	default:
		return fmt.Errorf("PHRASE_REGION must be eu or us, got %q", c.PhraseRegion)
	}
	switch strings.TrimSpace(c.I18nAdapter) {
	case AdapterDocumentInternationalization, AdapterFieldLanguage:
	default:
		return fmt.Errorf("I18N_ADAPTER %q is not supported", c.I18nAdapter)
	}
	if strings.TrimSpace(c.I18nLanguageField) == "" {
		return fmt.Errorf("I18N_LANGUAGE_FIELD is required")
	}
	if strings.TrimSpace(c.SourceLang) == "" {
		return fmt.Errorf("SOURCE_LANG is required")
	}
	if c.ReferenceMaxDepth < 1 {
		return fmt.Errorf("REFERENCE_MAX_DEPTH must be >= 1")
	}
	if c.JobCreatedDelay < 0 {
		return fmt.Errorf("JOB_CREATED_DELAY must be >= 0")
	}
	if c.CreateConcurrency < 1 || c.CreateConcurrency > 2 {
		return fmt.Errorf("CREATE_CONCURRENCY must be 1 or 2, got %d", c.CreateConcurrency)
	}
	return nil
}

// HasPhraseCredentials reports whether vendor calls can be authenticated.
func (c *Config) HasPhraseCredentials() bool {
	if c == nil {
		return false
	}
	return strings.TrimSpace(c.PhraseUserName) != "" && c.PhrasePassword != ""
}

func (c *Config) TranslatableTypesList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.TranslatableTypes, ",")
	types := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		typ := strings.TrimSpace(part)
		if typ == "" {
			continue
		}
		if _, exists := seen[typ]; exists {
			continue
		}
		seen[typ] = struct{}{}
		types = append(types, typ)
	}
	return types
}
