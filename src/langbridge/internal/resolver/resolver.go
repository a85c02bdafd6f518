// Package resolver locates backend runtimes and builds per-session launch
// specifications. Installing backend bundles is out of scope; this package
// only verifies that a configured installation is usable.
package resolver

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/junolab/langbridge/src/langbridge/entity"
	"github.com/junolab/langbridge/src/langbridge/internal/errors"
)

const (
	_configKeyFamilies     = "families"
	_configKeySessionsRoot = "sessionsRoot"

	// Argument placeholders substituted per session.
	_tokenWorkDir = "{workdir}"
	_tokenSession = "{session}"
)

// Module is an fx module providing the Resolver.
var Module = fx.Provide(New)

// FamilyConfig describes one supported backend family.
type FamilyConfig struct {
	// Address the gateway listens on for this family's client connections.
	Address string `yaml:"address"`
	// Mode selects framed relay or line-protocol translation.
	Mode entity.TranslationMode `yaml:"mode"`
	// Command is the backend executable name or path.
	Command string `yaml:"command"`
	// Args may contain {workdir} and {session} placeholders.
	Args []string `yaml:"args"`
	// BundleFiles must exist relative to the executable's directory.
	BundleFiles []string `yaml:"bundleFiles"`
	// CompletionTruncationLimit is the filter-text length at or below which a
	// completion result is reported incomplete. Backend-specific: short
	// prefixes are truncated by the backend for performance.
	CompletionTruncationLimit int `yaml:"completionTruncationLimit"`
}

// Launch is a resolved backend command for one session.
type Launch struct {
	Path    string
	Args    []string
	WorkDir string
}

// Resolver resolves backend families into launchable commands.
type Resolver interface {
	// Families returns the configured family set.
	Families() map[entity.FamilyName]FamilyConfig
	// Family returns one family's configuration.
	Family(name entity.FamilyName) (FamilyConfig, error)
	// Resolve locates the family's executable, verifies its bundle, creates
	// the session working directory and returns the launch command.
	Resolve(family entity.FamilyName, id uuid.UUID) (Launch, error)
}

// Params define values to be used by the Resolver.
type Params struct {
	fx.In

	Config config.Provider
	Logger *zap.SugaredLogger
}

type resolver struct {
	families     map[entity.FamilyName]FamilyConfig
	sessionsRoot string
	logger       *zap.SugaredLogger

	// lookPath is swapped in tests.
	lookPath func(file string) (string, error)
}

// New creates a Resolver from configuration.
func New(p Params) (Resolver, error) {
	r := &resolver{
		families: make(map[entity.FamilyName]FamilyConfig),
		logger:   p.Logger,
		lookPath: exec.LookPath,
	}

	if err := p.Config.Get(_configKeyFamilies).Populate(&r.families); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyFamilies, err)
	}
	if len(r.families) == 0 {
		return nil, fmt.Errorf("missing field %q in config", _configKeyFamilies)
	}
	if err := p.Config.Get(_configKeySessionsRoot).Populate(&r.sessionsRoot); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeySessionsRoot, err)
	}
	if r.sessionsRoot == "" {
		r.sessionsRoot = filepath.Join(os.TempDir(), "langbridge-sessions")
	}

	return r, nil
}

func (r *resolver) Families() map[entity.FamilyName]FamilyConfig {
	return r.families
}

func (r *resolver) Family(name entity.FamilyName) (FamilyConfig, error) {
	cfg, ok := r.families[name]
	if !ok {
		return FamilyConfig{}, &errors.ResolutionError{Family: string(name), Reason: "unknown backend family"}
	}
	return cfg, nil
}

func (r *resolver) Resolve(family entity.FamilyName, id uuid.UUID) (Launch, error) {
	cfg, err := r.Family(family)
	if err != nil {
		return Launch{}, err
	}

	path, err := r.lookPath(cfg.Command)
	if err != nil {
		return Launch{}, &errors.ResolutionError{
			Family: string(family),
			Reason: fmt.Sprintf("runtime executable %q not found on host", cfg.Command),
		}
	}

	for _, bundleFile := range cfg.BundleFiles {
		full := filepath.Join(filepath.Dir(path), bundleFile)
		if _, err := os.Stat(full); err != nil {
			return Launch{}, &errors.ResolutionError{
				Family: string(family),
				Reason: fmt.Sprintf("required bundle file %q missing", bundleFile),
			}
		}
	}

	workDir := filepath.Join(r.sessionsRoot, id.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Launch{}, &errors.ResolutionError{
			Family: string(family),
			Reason: fmt.Sprintf("creating session directory: %v", err),
		}
	}

	args := make([]string, len(cfg.Args))
	for i, arg := range cfg.Args {
		arg = strings.ReplaceAll(arg, _tokenWorkDir, workDir)
		arg = strings.ReplaceAll(arg, _tokenSession, id.String())
		args[i] = arg
	}

	r.logger.Infow("resolved backend", "family", family, "path", path, "workDir", workDir)
	return Launch{Path: path, Args: args, WorkDir: workDir}, nil
}
