package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/glennswest/microsdn/pkg/archive"
	"github.com/glennswest/microsdn/pkg/config"
	"github.com/glennswest/microsdn/pkg/network"
	"github.com/glennswest/microsdn/pkg/network/driver"
)

// globalOpts are the persistent flags shared by every command.
type globalOpts struct {
	configPath string
	statePath  string
	logLevel   string
	execute    bool
}

func (o *globalOpts) bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "config file (default $"+config.EnvPath+")")
	fs.StringVar(&o.statePath, "state", "", "override the state file path")
	fs.StringVar(&o.logLevel, "log-level", "", "override the log level")
	fs.BoolVar(&o.execute, "execute", false, "run commands on this host instead of recording them")
}

// loadConfig reads the config file and applies flag overrides.
func (o *globalOpts) loadConfig(fs *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(config.Path(o.configPath))
	if err != nil {
		return config.Config{}, err
	}
	if o.statePath != "" {
		cfg.StatePath = o.statePath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if fs.Changed("execute") {
		cfg.Execute = o.execute
	}
	return cfg, cfg.Validate()
}

// runtime is everything a command needs, built from the config.
type runtime struct {
	cfg      config.Config
	log      *zap.SugaredLogger
	registry *prometheus.Registry
	ctrl     *network.Controller
	recorder *driver.Recorder // nil when executing for real
	archive  *archive.Store   // nil when no archive dir is configured
	flush    func()
}

func newLogger(cfg config.Config) (*zap.SugaredLogger, func(), error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar(), func() { _ = logger.Sync() }, nil
}

func newRuntime(cfg config.Config) (*runtime, error) {
	log, flush, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt := &runtime{cfg: cfg, log: log, registry: reg, flush: flush}

	var exec network.Executor
	if cfg.Execute {
		exec = driver.NewExec(cfg.CommandTimeout, log)
	} else {
		rt.recorder = driver.NewRecorder(log)
		exec = rt.recorder
	}

	opts := network.Options{
		StatePath:      cfg.StatePath,
		CommandTimeout: cfg.CommandTimeout,
		QueryTimeout:   cfg.IntrospectionTimeout,
		Metrics:        network.NewMetrics(reg),
		RecordOnly:     !cfg.Execute,
	}
	if cfg.ArchiveDir != "" {
		store, err := archive.NewStore(cfg.ArchiveDir)
		if err != nil {
			return nil, err
		}
		opts.Archive = store
		rt.archive = store
	}

	rt.ctrl = network.NewController(exec, driver.NewLinux(log), opts, log.Named("controller"))
	return rt, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
