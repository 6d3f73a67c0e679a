package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/primebox/session"
)

type Config struct {
	gridSize       int
	keepScores     bool
	maxValue       int
	minValue       int
	port           int
	prefix         string
	profile        bool
	roundDuration  time.Duration
	serverIP       string
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.roundDuration <= 0 {
		return fmt.Errorf("invalid round duration: %s", c.roundDuration)
	}
	return c.sessionConfig().Validate()
}

func (c *Config) sessionConfig() session.Config {
	return session.Config{
		GridSize:      c.gridSize,
		MinValue:      c.minValue,
		MaxValue:      c.maxValue,
		RoundDuration: c.roundDuration,
		KeepScores:    c.keepScores,
	}
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PRIMEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "primebox",
		Short:         "A local-network prime-hunting party game: find the primes on the board before time runs out.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			setupLogging(cfg.verbose)
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.serverIP, "server-ip", "b", "127.0.0.1", "address to bind to (env: PRIMEBOX_SERVER_IP)")
	fs.IntVarP(&cfg.port, "server-port", "p", 5555, "port to listen on (env: PRIMEBOX_SERVER_PORT)")
	fs.IntVar(&cfg.gridSize, "grid-size", 25, "number of cells on the board (env: PRIMEBOX_GRID_SIZE)")
	fs.IntVar(&cfg.minValue, "min-value", 2, "smallest value a cell can hold (env: PRIMEBOX_MIN_VALUE)")
	fs.IntVar(&cfg.maxValue, "max-value", 2000, "largest value a cell can hold (env: PRIMEBOX_MAX_VALUE)")
	fs.DurationVar(&cfg.roundDuration, "round-duration", 2*time.Minute, "time limit for each round (env: PRIMEBOX_ROUND_DURATION)")
	fs.BoolVar(&cfg.keepScores, "keep-scores", false, "carry scores over when a new game starts (env: PRIMEBOX_KEEP_SCORES)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: PRIMEBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: PRIMEBOX_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are ended (env: PRIMEBOX_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: PRIMEBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: PRIMEBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PRIMEBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: PRIMEBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(newClientCmd())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("primebox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
