package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind              string
	gameOverLinger    time.Duration
	maxRejections     int
	nightTimeout      time.Duration
	playerTimeout     time.Duration
	port              int
	prefix            string
	profile           bool
	questAbsenteeFail bool
	questTimeout      time.Duration
	roundTimeout      time.Duration
	sessionTimeout    time.Duration
	tlsCert           string
	tlsKey            string
	verbose           bool
	version           bool
	voteTimeout       time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.maxRejections < 1 {
		return fmt.Errorf("invalid max rejections (must be at least 1): %d", c.maxRejections)
	}
	if c.voteTimeout <= 0 || c.questTimeout <= 0 || c.nightTimeout <= 0 || c.roundTimeout <= 0 {
		return errors.New("phase timeouts must be positive")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PARLOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "parlor...",
		Short:         "A party-game platform with per-player controllers and a shared host display.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: PARLOR_BIND)")
	fs.DurationVar(&cfg.gameOverLinger, "game-over-linger", 60*time.Second, "time the final reveal stays up before players return to the room (env: PARLOR_GAME_OVER_LINGER)")
	fs.IntVar(&cfg.maxRejections, "max-rejections", 5, "consecutive rejected team proposals before evil wins outright (env: PARLOR_MAX_REJECTIONS)")
	fs.DurationVar(&cfg.nightTimeout, "night-timeout", 15*time.Second, "time players get to memorize their role reveal (env: PARLOR_NIGHT_TIMEOUT)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 10*time.Minute, "grace period before disconnected players are removed from a room (env: PARLOR_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: PARLOR_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: PARLOR_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: PARLOR_PROFILE)")
	fs.BoolVar(&cfg.questAbsenteeFail, "quest-absentee-fail", false, "count an evil quest member who never reconnects as a fail card once the ceiling expires (env: PARLOR_QUEST_ABSENTEE_FAIL)")
	fs.DurationVar(&cfg.questTimeout, "quest-timeout", 90*time.Second, "hard ceiling on quest card collection (env: PARLOR_QUEST_TIMEOUT)")
	fs.DurationVar(&cfg.roundTimeout, "round-timeout", 90*time.Second, "deadline for caption submissions and votes (env: PARLOR_ROUND_TIMEOUT)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle rooms are ended (env: PARLOR_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: PARLOR_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: PARLOR_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PARLOR_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: PARLOR_VERSION)")
	fs.DurationVar(&cfg.voteTimeout, "vote-timeout", 60*time.Second, "deadline for team proposal votes (env: PARLOR_VOTE_TIMEOUT)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("parlor v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
