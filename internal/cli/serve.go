package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/insanalamin/mechaway/internal/config"
	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/nodes"
	"github.com/insanalamin/mechaway/internal/registry"
	"github.com/insanalamin/mechaway/internal/sandbox"
	"github.com/insanalamin/mechaway/internal/scheduler"
	"github.com/insanalamin/mechaway/internal/server"
	"github.com/insanalamin/mechaway/internal/store"
)

// NewServeCommand creates the serve command: the full engine behind
// the HTTP surface. A fatal configuration or storage error exits
// non-zero.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow engine and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}
			log := newLogger(opts, cfg.LogLevel)

			cipherKey, err := cfg.Database.CipherKey()
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}

			mgr, err := store.NewManager(cfg.Database.DataDir,
				store.WithCipherKey(cipherKey),
				store.WithLogger(log),
			)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			defer mgr.Close()

			// The default project always exists so the management API
			// has somewhere to land without prior setup.
			if _, err := mgr.Project("default"); err != nil {
				return fmt.Errorf("storage: %w", err)
			}

			reg := registry.New(mgr, registry.WithLogger(log))
			eng := engine.New(
				nodes.NewCatalog(),
				sandbox.New(),
				engine.WithLogger(log),
			)
			srv := server.New(mgr, reg, eng, log)

			sched := scheduler.New(srv.SubmitCron, scheduler.WithLogger(log))
			reg.Subscribe(sched.Reconcile)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := reg.Init(ctx); err != nil {
				return fmt.Errorf("registry: %w", err)
			}
			for _, problem := range reg.Problems() {
				log.Warn("workflow excluded at startup",
					"project", problem.Project,
					"workflow", problem.WorkflowID,
					"error", problem.Err,
				)
			}

			sched.Start()
			defer sched.Stop()

			if err := srv.Run(ctx, cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: %w", err)
			}
			log.Info("shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	return cmd
}
