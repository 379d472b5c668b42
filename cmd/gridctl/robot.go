package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/shieldgrid/gridctl/internal/api"
	"github.com/shieldgrid/gridctl/internal/bus"
	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/infrastructure/logging"
	"github.com/shieldgrid/gridctl/internal/router"
	"github.com/shieldgrid/gridctl/internal/sequencer"
)

func robotCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "robot",
		Short: "Run the macro robot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(v)
			if err != nil {
				return err
			}
			log := logging.NewService(cfg.Logging, "gridctl-"+cfg.Sequencer.Nick, version)
			return runRobot(cmd.Context(), cfg, log)
		},
	}
}

// newRobot builds the sequencer and router for nick, loads the prelude and
// routes bus traffic to the router.
func newRobot(ctx context.Context, cfg *config.Config, nick string, s *session) (*sequencer.Sequencer, *router.Router, error) {
	seq := sequencer.New(sequencer.Config{
		Nick:        nick,
		WaitTimeout: cfg.Sequencer.WaitTimeout,
	}, sequencer.NewState(cfg.Sequencer.BacklogSize), s.bus)
	seq.SetLogger(s.log)

	prelude := sequencer.DefaultPrelude()
	if cfg.Sequencer.Prelude != "" {
		data, err := os.ReadFile(cfg.Sequencer.Prelude)
		if err != nil {
			return nil, nil, fmt.Errorf("reading prelude: %w", err)
		}
		prelude = string(data)
	}
	if err := seq.LoadPrelude(ctx, prelude); err != nil {
		return nil, nil, err
	}

	rt := router.New(seq, s.bus, router.Config{WorkQueueSize: cfg.Sequencer.WorkQueueSize})
	rt.SetLogger(s.log)
	s.bus.OnMessage(rt.HandleMessage)
	return seq, rt, nil
}

func runRobot(ctx context.Context, cfg *config.Config, log *logging.Logger) (err error) {
	nick := cfg.Sequencer.Nick
	log.Info("starting robot", "nick", nick, "version", version, "commit", commit)

	s, err := joinBus(cfg, nick, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.close()) }()

	seq, rt, err := newRobot(ctx, cfg, nick, s)
	if err != nil {
		return err
	}
	srv, err := s.serveAPI(ctx, cfg, cfg.Sequencer.APIPort, api.RobotSource{Router: rt, Sequencer: seq}, nil)
	if err != nil {
		return err
	}
	if srv != nil {
		s.bus.OnMessage(func(msg bus.Message) { srv.Broadcast(api.ChannelBus, msg) })
	}
	if err := s.start(); err != nil {
		return err
	}

	if err := s.healthCheck(ctx); err != nil {
		log.Warn("startup health check failed", "error", err)
	}
	log.Info("robot ready", "functions", len(seq.Functions()))
	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("robot stopped")
	return nil
}

func columnsCmd(v *viper.Viper) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "columns <file>",
		Short: "Validate and run a column command file",
		Long: `A column command file names one command per column on its first
non-comment line; every following line holds one value per column.
Every cell is validated before anything runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cf, err := sequencer.LoadColumns(args[0])
			if err != nil {
				for _, e := range multierr.Errors(err) {
					fmt.Fprintln(cmd.ErrOrStderr(), e)
				}
				return fmt.Errorf("%s: %d problem(s)", args[0], len(multierr.Errors(err)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows of %v\n", args[0], len(cf.Rows), cf.Columns)
			if dryRun {
				return nil
			}

			cfg, _, err := loadConfig(v)
			if err != nil {
				return err
			}
			nick := cfg.Sequencer.Nick + "-columns"
			log := logging.NewService(cfg.Logging, "gridctl-"+nick, version)
			return runColumns(cmd.Context(), cfg, nick, cf, cmd.OutOrStdout(), log)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only")
	return cmd
}

func runColumns(ctx context.Context, cfg *config.Config, nick string, cf *sequencer.ColumnFile, out io.Writer, log *logging.Logger) (err error) {
	s, err := joinBus(cfg, nick, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.close()) }()

	seq, rt, err := newRobot(ctx, cfg, nick, s)
	if err != nil {
		return err
	}
	if err := s.start(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	routed := make(chan error, 1)
	go func() { routed <- rt.Run(runCtx) }()

	err = cf.Run(ctx, seq, out)
	cancel()
	return multierr.Append(err, <-routed)
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <script>...",
		Short: "Parse macro scripts without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed error
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					failed = multierr.Append(failed, err)
					continue
				}
				n, err := sequencer.CheckScript(f)
				f.Close()
				if err != nil {
					for _, e := range multierr.Errors(err) {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, e)
					}
					failed = multierr.Append(failed, fmt.Errorf("%s: %d problem(s)", path, len(multierr.Errors(err))))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d statements\n", path, n)
			}
			return failed
		},
	}
}
