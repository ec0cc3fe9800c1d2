package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/drone/envsubst"
	"github.com/go-kit/log/level"
	"gopkg.in/yaml.v2"

	"github.com/Numi2/solana-numistack/cmd/numistack/app"
	"github.com/Numi2/solana-numistack/modules/aggregator"
	util_log "github.com/Numi2/solana-numistack/pkg/util/log"
)

const appName = "numistack"

// Version is set via build flag -ldflags -X main.Version
var (
	Version  string
	Revision string
)

const (
	exitOK          = 0
	exitConfigError = 2
	exitBindFailure = 3
	exitInternal    = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	printVersion := flag.Bool("version", false, "Print version information and exit.")

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		return exitConfigError
	}
	if *printVersion {
		fmt.Printf("%s %s (revision %s)\n", appName, orDev(Version), orDev(Revision))
		return exitOK
	}

	util_log.InitLogger(config.LogLevel)

	if err := config.Validate(); err != nil {
		level.Error(util_log.Logger).Log("msg", "invalid config", "err", err)
		return exitConfigError
	}

	a, err := app.New(*config)
	if err != nil {
		level.Error(util_log.Logger).Log("msg", "failed initialising", "err", err)
		if errors.Is(err, aggregator.ErrBind) {
			return exitBindFailure
		}
		return exitConfigError
	}

	level.Info(util_log.Logger).Log("msg", "starting "+appName, "version", orDev(Version))

	if err := a.Run(); err != nil {
		level.Error(util_log.Logger).Log("msg", appName+" failed", "err", err)
		if errors.Is(err, aggregator.ErrBind) {
			return exitBindFailure
		}
		return exitInternal
	}
	return exitOK
}

func loadConfig() (*app.Config, error) {
	var (
		configFile      string
		configExpandEnv bool
	)
	fs := flag.CommandLine
	fs.StringVar(&configFile, "config.file", "", "Configuration file to load.")
	fs.BoolVar(&configExpandEnv, "config.expand-env", false, "Expand ${VAR} in the config file from the environment.")

	config := &app.Config{}
	config.RegisterFlagsAndApplyDefaults("", fs)
	flag.Parse()

	if configFile == "" {
		return config, nil
	}

	buf, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if configExpandEnv {
		s, err := envsubst.EvalEnv(string(buf))
		if err != nil {
			return nil, fmt.Errorf("expanding env vars: %w", err)
		}
		buf = []byte(s)
	}
	if err := yaml.UnmarshalStrict(buf, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return config, nil
}

func orDev(s string) string {
	if s == "" {
		return "dev"
	}
	return s
}
