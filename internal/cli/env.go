package cli

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// OverrideVar names the variable that points at an explicit env file.
const OverrideVar = "PHRASESYNC_ENV_FILE"

// ErrNoEnvFile is returned when no candidate env file could be loaded.
var ErrNoEnvFile = errors.New("no env file loaded")

// EnvLoader loads .env files with a predictable override order.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	value := fs.String("env", defaultPath, description)
	return &EnvLoader{
		value:       value,
		defaultPath: defaultPath,
	}
}

// Load resolves the env file in order: PHRASESYNC_ENV_FILE, the --env value,
// its basename, then the default path. Values from the file override the
// process environment.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	for _, candidate := range l.candidates() {
		if err := godotenv.Overload(candidate.path); err == nil {
			log.Printf("Loaded environment from %s: %s", candidate.source, candidate.path)
			return candidate.path, nil
		} else if candidate.source == OverrideVar {
			log.Printf("Warning: failed to load %s=%s", OverrideVar, candidate.path)
		}
	}

	return "", fmt.Errorf("%w: tried %s", ErrNoEnvFile, l.requested())
}

// LoadOptional behaves like Load but treats a missing env file as a plain
// process-environment deployment.
func (l *EnvLoader) LoadOptional() (string, error) {
	path, err := l.Load()
	if errors.Is(err, ErrNoEnvFile) {
		return "", nil
	}
	return path, err
}

type envCandidate struct {
	source string
	path   string
}

func (l *EnvLoader) candidates() []envCandidate {
	var out []envCandidate
	if custom := strings.TrimSpace(os.Getenv(OverrideVar)); custom != "" {
		out = append(out, envCandidate{source: OverrideVar, path: custom})
	}

	requested := l.requested()
	out = append(out, envCandidate{source: "flag", path: requested})

	base := filepath.Base(requested)
	if base != "" && base != requested {
		out = append(out, envCandidate{source: "basename fallback", path: base})
	}
	if requested != l.defaultPath {
		out = append(out, envCandidate{source: "fallback", path: l.defaultPath})
	}
	return out
}

func (l *EnvLoader) requested() string {
	requested := ""
	if l.value != nil {
		requested = strings.TrimSpace(*l.value)
	}
	if requested == "" {
		requested = l.defaultPath
	}
	return requested
}
