package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinloof/sanity-plugin-phrase/internal/cli"
	"github.com/tinloof/sanity-plugin-phrase/internal/config"
	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/db"
	"github.com/tinloof/sanity-plugin-phrase/internal/i18n"
	"github.com/tinloof/sanity-plugin-phrase/internal/logging"
	"github.com/tinloof/sanity-plugin-phrase/internal/phrase"
	"github.com/tinloof/sanity-plugin-phrase/internal/translation"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

// runtime holds everything a command needs to talk to the store and Phrase.
type runtime struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *db.Pool
	manager *translation.Manager
}

func (r *runtime) Close() {
	if r != nil && r.pool != nil {
		_ = r.pool.Close()
	}
}

func loadConfig(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func newRuntime(ctx context.Context, envLoader *cli.EnvLoader) (*runtime, error) {
	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := contentstore.NewPGStore(pool)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}

	manager, err := newManager(cfg, store, logger)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, logger: logger, pool: pool, manager: manager}, nil
}

func newManager(cfg *config.Config, store contentstore.Store, logger zerolog.Logger) (*translation.Manager, error) {
	types := cfg.TranslatableTypesList()
	adapter, err := i18n.NewRegistryForStore(store, cfg.I18nAdapter, types, cfg.I18nLanguageField).Adapter(cfg.I18nAdapter)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve i18n adapter: %w", err)
	}

	var vendor translation.Vendor
	if cfg.HasPhraseCredentials() {
		vendor = phrase.NewClient(phrase.Credentials{
			UserName: cfg.PhraseUserName,
			Password: cfg.PhrasePassword,
			Region:   phrase.Region(strings.ToLower(strings.TrimSpace(cfg.PhraseRegion))),
		})
	} else {
		logger.Warn().Msg("PHRASE_USER_NAME or PHRASE_PASSWORD missing, vendor calls are disabled")
	}

	return translation.NewManager(store, vendor, adapter, translation.Options{
		TemplateUID:       cfg.PhraseTemplateUID,
		SourceLang:        cfg.SourceLang,
		TranslatableTypes: types,
		Concurrency:       cfg.CreateConcurrency,
		ReferenceMaxDepth: cfg.ReferenceMaxDepth,
		DraftPrecedence:   cfg.ReferenceDraftPrecedence,
	}, logger), nil
}

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return context.WithTimeout(context.Background(), timeout)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}
