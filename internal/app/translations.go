package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tinloof/sanity-plugin-phrase/internal/cli"
	"github.com/tinloof/sanity-plugin-phrase/internal/translation"
)

func runCommit(args []string) int {
	fs := flag.NewFlagSet("commit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "commit requires exactly one TMD id")
		return 2
	}
	tmdID := strings.TrimSpace(fs.Arg(0))

	ctx, cancel := commandContext(*timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	result, err := rt.manager.CommitTranslation(ctx, tmdID)
	if err != nil {
		rt.logger.Error().Err(err).Str("tmd_id", tmdID).Msg("commit failed")
		fmt.Fprintf(os.Stderr, "Commit failed: %v\n", err)
		if len(result.Targets) > 0 {
			_ = printJSON(result)
		}
		return 1
	}

	rt.logger.Info().
		Str("tmd_id", tmdID).
		Int("modified_docs", len(result.ModifiedDocs)).
		Int("deleted_ptds", len(result.DeletedPTDs)).
		Msg("translation committed")
	if err := printJSON(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		return 1
	}
	return 0
}

func runRefresh(args []string) int {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "refresh requires at least one PTD id")
		return 2
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	result, err := rt.manager.RefreshPTDs(ctx, fs.Args())
	if err != nil {
		rt.logger.Error().Err(err).Strs("ptd_ids", fs.Args()).Msg("refresh failed")
		fmt.Fprintf(os.Stderr, "Refresh failed: %v\n", err)
		return 1
	}
	if err := printJSON(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		return 1
	}
	if result.Failed() > 0 {
		return 1
	}
	return 0
}

func runStale(args []string) int {
	fs := flag.NewFlagSet("stale", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", time.Minute, "Command timeout")
	langs := fs.String("langs", "", "Comma-separated target languages")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "stale requires at least one source document id")
		return 2
	}
	targetLangs := splitList(*langs)
	if len(targetLangs) == 0 {
		fmt.Fprintln(os.Stderr, "--langs is required")
		return 2
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	items, err := rt.manager.StaleTranslations(ctx, translation.StaleRequest{
		SourceIDs:   fs.Args(),
		TargetLangs: targetLangs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compute staleness: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(items); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if err := writeTable([]string{"document", "lang", "status", "changed_paths", "translated_at"}, stalenessRows(items)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render staleness table: %v\n", err)
		return 1
	}
	return 0
}

func stalenessRows(items []translation.StaleResponse) [][]string {
	var rows [][]string
	for _, item := range items {
		for _, target := range item.Targets {
			status := string(target.Status)
			if target.Error != nil {
				status = "ERROR: " + target.Error.Message
			}
			rows = append(rows, []string{
				item.SourceDoc.ID,
				target.Lang.Store,
				status,
				strings.Join(target.ChangedPaths, ","),
				target.TranslationDate,
			})
		}
	}
	return rows
}
