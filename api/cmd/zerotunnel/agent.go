package zerotunnel

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/agent"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/config"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/system"
)

func newAgentCmd() *cobra.Command {
	envHelpText := generateEnvHelpText(config.AgentConfig{}, "")

	agentCmd := &cobra.Command{
		Use:     "agent",
		Short:   "Connect this machine to a relay.",
		Long:    "Dial out to the relay and serve a shell to every browser that selects this machine.",
		Example: "ROOT_URL=https://relay.example.com AGENT_NAME=build-box zerotunnel agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadAgentConfig()
			if err != nil {
				return fmt.Errorf("failed to load agent config: %w", err)
			}
			system.SetupLogging(cfg.Logging.Level, cfg.Logging.Pretty)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Info().
				Str("agent", cfg.Name).
				Str("shell", cfg.Shell).
				Bool("insecure_skip_verify", cfg.InsecureSkipVerify).
				Msg("agent configured")

			client := agent.NewClient(cfg, &agent.PTYSpawner{
				Shell: cfg.Shell,
				Term:  cfg.TermName,
			})
			return client.Run(ctx)
		},
	}

	agentCmd.Long += "\n\nEnvironment Variables:\n\n" + envHelpText

	return agentCmd
}
