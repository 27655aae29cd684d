package zerotunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/config"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/pubsub"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/router"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/server"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/system"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

func newServeCmd() *cobra.Command {
	envHelpText := generateEnvHelpText(config.RelayConfig{}, "")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the relay.",
		Long:    "Start the relay that pairs web terminals with connected agents.",
		Example: "PORT=8000 BASIC_AUTH_USER=admin BASIC_AUTH_PASSWORD=secret zerotunnel serve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadRelayConfig()
			if err != nil {
				return fmt.Errorf("failed to load relay config: %w", err)
			}
			system.SetupLogging(cfg.Logging.Level, cfg.Logging.Pretty)
			return serve(cmd.Context(), cfg)
		},
	}

	serveCmd.Long += "\n\nEnvironment Variables:\n\n" + envHelpText

	return serveCmd
}

func serve(ctx context.Context, cfg config.RelayConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ps, err := pubsub.New(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("failed to create pubsub: %w", err)
	}
	defer ps.Close()

	sub, err := ps.Subscribe(ctx, pubsub.GetLifecycleWildcard(cfg.PubSub.SubjectPrefix), logLifecycleEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe to lifecycle events: %w", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck

	r := router.New(router.Options{
		Publisher:     ps,
		SubjectPrefix: cfg.PubSub.SubjectPrefix,
	})
	srv := server.NewServer(cfg, r)

	if cfg.Auth.Enabled() {
		log.Info().Str("user", cfg.Auth.BasicAuthUser).Msg("web terminal protected by basic auth")
	} else {
		log.Warn().Msg("BASIC_AUTH_USER and BASIC_AUTH_PASSWORD not set, web terminal is open to anyone")
	}

	p := pool.New().
		WithContext(ctx).
		WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return r.Run(ctx)
	})
	p.Go(func(ctx context.Context) error {
		return srv.ListenAndServe(ctx)
	})
	return p.Wait()
}

func logLifecycleEvent(payload []byte) error {
	var ev types.LifecycleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	log.Debug().
		Str("event", string(ev.Type)).
		Str("agent", ev.Agent).
		Str("browser_id", ev.BrowserID).
		Time("at", ev.Time).
		Msg("lifecycle")
	return nil
}
