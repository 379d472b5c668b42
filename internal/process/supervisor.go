package process

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/multierr"

	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
)

// Child is one gridctl subcommand run by the supervisor.
type Child struct {
	Name      string
	Args      []string
	HealthURL string
}

// Children returns the driver processes for every configured device
// followed by the robot. Each child reads the same config file.
func Children(cfg *config.Config, configPath string) []Child {
	out := make([]Child, 0, len(cfg.Devices)+1)
	for _, d := range cfg.Devices {
		out = append(out, Child{
			Name:      d.Name,
			Args:      childArgs(configPath, "driver", d.Name),
			HealthURL: healthURL(d.APIPort),
		})
	}
	out = append(out, Child{
		Name:      cfg.Sequencer.Nick,
		Args:      childArgs(configPath, "robot"),
		HealthURL: healthURL(cfg.Sequencer.APIPort),
	})
	return out
}

func childArgs(configPath string, args ...string) []string {
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}

func healthURL(port int) string {
	if port == 0 {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
}

// HTTPHealthCheck returns a check that expects 200 from url.
func HTTPHealthCheck(client *http.Client, url string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}
		return nil
	}
}

// Supervisor starts the children, keeps them running, and stops them in
// reverse order.
type Supervisor struct {
	managers []*Manager
	logger   Logger
}

// NewSupervisor builds one Manager per child. An empty cfg.Binary runs the
// current executable.
func NewSupervisor(cfg config.SupervisorConfig, children []Child) (*Supervisor, error) {
	if len(children) == 0 {
		return nil, ErrNoChildren
	}
	binary := cfg.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating gridctl binary: %w", err)
		}
		binary = exe
	}

	s := &Supervisor{logger: noopLogger{}}
	for _, c := range children {
		mc := Config{
			Name:               c.Name,
			Binary:             binary,
			Args:               c.Args,
			RestartOnFailure:   true,
			RestartDelay:       cfg.RestartDelay,
			MaxRestartAttempts: cfg.MaxRestartAttempts,
			GracefulTimeout:    cfg.GracefulTimeout,
		}
		if c.HealthURL != "" {
			mc.HealthCheck = HTTPHealthCheck(http.DefaultClient, c.HealthURL)
		}
		s.managers = append(s.managers, NewManager(mc))
	}
	return s, nil
}

// SetLogger sets the logger used by the supervisor and every manager.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
	for _, m := range s.managers {
		m.SetLogger(logger)
	}
}

// Run starts every child and blocks until ctx is cancelled, then stops them.
// A child that fails to start stops the ones already running.
func (s *Supervisor) Run(ctx context.Context) error {
	for i, m := range s.managers {
		if err := m.Start(ctx); err != nil {
			return multierr.Append(err, s.stop(s.managers[:i]))
		}
	}
	s.logger.Info("supervisor running", "children", len(s.managers))

	<-ctx.Done()
	for _, st := range s.Stats() {
		s.logger.Info("supervisor stopping child",
			"name", st.Name, "status", st.Status, "pid", st.PID,
			"uptime", st.Uptime, "restarts", st.RestartCount, "last_error", st.LastError)
	}
	return s.stop(s.managers)
}

func (s *Supervisor) stop(managers []*Manager) error {
	var err error
	for i := len(managers) - 1; i >= 0; i-- {
		err = multierr.Append(err, managers[i].Stop())
	}
	return err
}

// Stats returns one entry per child, in start order.
func (s *Supervisor) Stats() []Stats {
	out := make([]Stats, 0, len(s.managers))
	for _, m := range s.managers {
		out = append(out, m.Stats())
	}
	return out
}
