package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/sonilabs/soni/internal/checkpoint"
	"github.com/sonilabs/soni/internal/config"
	"github.com/sonilabs/soni/internal/flow"
	"github.com/sonilabs/soni/internal/logging"
	"github.com/sonilabs/soni/internal/runtime"
)

var setupLog = logging.New("cli")

// host is the assembled process state behind the runtime-backed commands.
type host struct {
	Resolved *config.ResolvedConfig
	Config   *flow.Config
	Runtime  *runtime.Runtime

	// closeStore releases the checkpoint backend, nil for memory.
	closeStore func() error
}

func (h *host) Close() error {
	if h.closeStore != nil {
		return h.closeStore()
	}
	return nil
}

// resolveHostConfig locates and resolves soni.toml with env and CLI layering.
func resolveHostConfig(overrides *config.CLIOverrides) (*config.ResolvedConfig, error) {
	path := flagConfig
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		path, err = config.FindConfigFile(cwd)
		if err != nil {
			return nil, err
		}
	}

	var fileCfg *config.Config
	var md *toml.MetaData
	if path != "" {
		cfg, meta, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		fileCfg, md = cfg, &meta
	}

	rc := config.Resolve(config.NewDefaults(), fileCfg, os.LookupEnv, overrides)
	rc.Path = path

	vr := config.Validate(rc.Config, md)
	for _, w := range vr.Warnings() {
		setupLog.Warn("config issue", "field", w.Field, "issue", w.Message)
	}
	if vr.HasErrors() {
		for _, e := range vr.Errors() {
			setupLog.Error("config error", "field", e.Field, "issue", e.Message)
		}
		return nil, fmt.Errorf("invalid configuration")
	}
	return rc, nil
}

// loadCompiledConfig loads the configured flow documents and compiles them.
// Explicit paths, when given, bypass the configured globs.
func loadCompiledConfig(rc *config.ResolvedConfig, explicit []string) (*flow.Config, []flow.CompileWarning, error) {
	paths := explicit
	if len(paths) == 0 {
		baseDir := "."
		if rc.Path != "" {
			baseDir = filepath.Dir(rc.Path)
		}
		var err error
		paths, err = config.ResolveFlowPaths(baseDir, rc.Config.Flows.Paths)
		if err != nil {
			return nil, nil, err
		}
	}

	doc, err := config.LoadFlowDocument(paths)
	if err != nil {
		return nil, nil, err
	}
	// The compiler lints registry bindings; the CLI carries only builtins, so
	// action bindings are checked at runtime instead.
	return flow.Compile(doc, nil)
}

// buildHost assembles the runtime from the resolved configuration.
func buildHost(overrides *config.CLIOverrides) (*host, error) {
	rc, err := resolveHostConfig(overrides)
	if err != nil {
		return nil, err
	}

	cfg, warnings, err := loadCompiledConfig(rc, nil)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		setupLog.Warn("flow warning", "detail", w.String())
	}

	h := &host{Resolved: rc, Config: cfg}

	backend := rc.Config.Session.Backend
	if backend == "" {
		backend = cfg.Settings().Persistence.Backend
	}

	opts := []runtime.Option{
		runtime.WithLogger(logging.New("runtime")),
	}
	switch backend {
	case "bolt":
		store, err := checkpoint.OpenBolt(rc.Config.Session.Path)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		opts = append(opts, runtime.WithStore(store))
		h.closeStore = store.Close
	default:
		opts = append(opts, runtime.WithStore(checkpoint.NewMemory()))
	}

	if rc.Config.Session.LockPolicy == "reject" {
		opts = append(opts, runtime.WithLockPolicy(runtime.LockReject))
	}
	if n := rc.Config.Session.StreamBuffer; n > 0 {
		opts = append(opts, runtime.WithStreamBuffer(n))
	}

	if p := rc.Config.NLU.Provider; p != "" && p != "keyword" {
		return nil, fmt.Errorf("unknown nlu provider %q; the CLI ships with: keyword", p)
	}

	h.Runtime = runtime.New(cfg, opts...)
	return h, nil
}
