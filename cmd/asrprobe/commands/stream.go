package commands

import (
	"github.com/spf13/cobra"

	"github.com/skypro1111/asr-probe/internal/config"
	"github.com/skypro1111/asr-probe/internal/harness"
)

func newStreamCmd(p *probe) *cobra.Command {
	var (
		audioIn  string
		chunkMs  int
		mode     string
		hotwords string
		path     string
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Run a streaming WebSocket session",
		Long: `Run one streaming recognition session over WebSocket.

The session sends a start signal, then the audio in real-time paced chunks of
--chunk_ms milliseconds, then an end signal, and waits a bounded time for the
remaining results. Without --audio_in a synthetic tone is streamed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			e, err := p.setup(cmd, func(cfg *config.Config) {
				if flags.Changed("audio_in") || flags.Changed("wav") {
					cfg.Harness.WAVPath = audioIn
				}
				if flags.Changed("chunk_ms") {
					cfg.Audio.ChunkMs = chunkMs
				}
				if flags.Changed("mode") {
					cfg.Streaming.Mode = mode
				}
				if flags.Changed("hotwords") {
					cfg.Streaming.Hotwords = hotwords
				}
				if flags.Changed("path") {
					cfg.Server.Path = path
				}
			})
			if err != nil {
				return err
			}
			defer e.close()

			report, err := harness.NewRunner(e.cfg, e.logger, e.metrics, cmd.OutOrStdout()).RunStream(e.ctx, e.cfg.Harness.WAVPath)
			if err != nil {
				return err
			}

			return p.finish(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&audioIn, "audio_in", "", "WAV file to stream")
	cmd.Flags().StringVar(&audioIn, "wav", "", "alias of --audio_in")
	cmd.Flags().IntVar(&chunkMs, "chunk_ms", 100, "chunk duration in milliseconds")
	cmd.Flags().StringVar(&mode, "mode", "2pass", "recognition mode: online, 2pass")
	cmd.Flags().StringVar(&hotwords, "hotwords", "", "hotwords passed in the start signal")
	cmd.Flags().StringVar(&path, "path", "/", "WebSocket path")

	return cmd
}
