package commands

import (
	"github.com/spf13/cobra"

	"github.com/skypro1111/asr-probe/internal/config"
	"github.com/skypro1111/asr-probe/internal/harness"
)

func newFramedCmd(p *probe) *cobra.Command {
	var (
		wavPath string
		stress  int
		test    string
	)

	cmd := &cobra.Command{
		Use:   "framed",
		Short: "Run the length-prefixed TCP scenarios",
		Long: `Run the length-prefixed TCP scenarios over one shared connection.

Every request is a 4-byte little-endian length followed by raw PCM; every
response is a length-prefixed JSON object. A failed connect aborts the run.

Scenarios:
  connection  connect and disconnect
  synthetic   a 2 s 440 Hz tone in one request
  wav         the file given with --wav in one request
  stress      --stress N sequential 1 s tone requests`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			e, err := p.setup(cmd, func(cfg *config.Config) {
				if flags.Changed("wav") {
					cfg.Harness.WAVPath = wavPath
				}
				if flags.Changed("stress") {
					cfg.Harness.StressCount = stress
				}
				if flags.Changed("test") {
					cfg.Harness.Test = test
				}
			})
			if err != nil {
				return err
			}
			defer e.close()

			report, err := harness.NewRunner(e.cfg, e.logger, e.metrics, cmd.OutOrStdout()).RunFramed(e.ctx)
			if err != nil {
				return err
			}

			return p.finish(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&wavPath, "wav", "", "WAV file to send as one request")
	cmd.Flags().IntVar(&stress, "stress", 0, "number of stress requests")
	cmd.Flags().StringVar(&test, "test", "all", "scenario to run: connection, synthetic, all")

	return cmd
}
