package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/skypro1111/asr-probe/internal/audio"
	"github.com/skypro1111/asr-probe/internal/config"
	"github.com/skypro1111/asr-probe/internal/failure"
	"github.com/skypro1111/asr-probe/internal/framed"
	"github.com/skypro1111/asr-probe/internal/metrics"
	"github.com/skypro1111/asr-probe/internal/protocol"
	"github.com/skypro1111/asr-probe/internal/stream"
)

// Runner executes test scenarios against the service described by the configuration
type Runner struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	out     io.Writer
}

// NewRunner creates a runner. Live results are printed to out; m may be nil.
func NewRunner(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}

	return &Runner{
		config:  cfg,
		logger:  logger,
		metrics: m,
		out:     out,
	}
}

// format returns the PCM format of the configured audio section
func (r *Runner) format() audio.Format {
	return audio.Format{
		SampleRate: r.config.Audio.SampleRate,
		Channels:   r.config.Audio.Channels,
		BitDepth:   r.config.Audio.BitDepth,
	}
}

func (r *Runner) tone(d time.Duration) ([]byte, error) {
	return audio.GenerateTone(r.config.Harness.ToneFrequency, d, r.config.Harness.ToneAmplitude, r.format())
}

// loadWAV decodes a WAV file. A format other than the configured one is
// logged and the audio is sent as is.
func (r *Runner) loadWAV(path string) (*audio.Clip, error) {
	clip, err := audio.LoadWAV(path)
	if err != nil {
		return nil, failure.IO(failure.PhaseSend, "failed to load audio", err)
	}

	if clip.Format != r.format() {
		r.logger.Warn("Audio format differs from the expected format",
			slog.String("path", path),
			slog.String("format", clip.Format.String()),
			slog.String("expected", r.format().String()))
	}

	r.logger.Info("Loaded audio",
		slog.String("path", path),
		slog.Int("bytes", len(clip.Data)),
		slog.Float64("duration_sec", clip.Duration()))

	return clip, nil
}

// RunFramed runs the framed scenarios selected by the harness configuration
// over one shared connection. A failed connect aborts the remaining cases.
func (r *Runner) RunFramed(ctx context.Context) (*Report, error) {
	h := r.config.Harness

	client, err := framed.NewClient(framed.Config{
		Address:         r.config.Server.Address(),
		ConnectTimeout:  r.config.Server.GetConnectTimeoutDuration(),
		ReadTimeout:     r.config.Framed.GetReadTimeoutDuration(),
		MaxResponseSize: r.config.Framed.MaxResponseSize,
	}, r.logger, r.metrics)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect()

	report := &Report{}

	start := time.Now()
	err = client.Connect(ctx)
	if h.Test == ScenarioConnection || h.Test == "all" || err != nil {
		r.record(report, caseResult(ScenarioConnection, start, err))
	}
	if err != nil {
		return report, nil
	}

	if h.Test == ScenarioSynthetic || h.Test == "all" {
		r.record(report, r.runSynthetic(ctx, client))
	}

	if h.WAVPath != "" {
		r.record(report, r.runWAV(ctx, client, h.WAVPath))
	}

	if h.StressCount > 0 {
		stats, result := r.runStress(ctx, client, h.StressCount)
		report.Stress = stats
		r.record(report, result)
	}

	return report, nil
}

func (r *Runner) runSynthetic(ctx context.Context, client *framed.Client) CaseResult {
	start := time.Now()

	pcm, err := r.tone(r.config.Harness.GetSyntheticDuration())
	if err != nil {
		return caseResult(ScenarioSynthetic, start, err)
	}

	return r.sendOnce(ctx, client, ScenarioSynthetic, start, pcm)
}

func (r *Runner) runWAV(ctx context.Context, client *framed.Client, path string) CaseResult {
	start := time.Now()

	clip, err := r.loadWAV(path)
	if err != nil {
		return caseResult(ScenarioWAV, start, err)
	}

	return r.sendOnce(ctx, client, ScenarioWAV, start, clip.Data)
}

// sendOnce sends pcm as one request. The case passes when the server reports success.
func (r *Runner) sendOnce(ctx context.Context, client *framed.Client, name string, start time.Time, pcm []byte) CaseResult {
	response, err := client.SendRequest(ctx, pcm)
	if err != nil {
		return caseResult(name, start, err)
	}

	fmt.Fprintf(r.out, "%s response: %s\n", name, response.Result)

	if !response.Result.Succeeded() {
		err = rejected(response.Result)
	}

	result := caseResult(name, start, err)
	result.Text = response.Result.GetText()
	return result
}

// rejected reports a response whose success flag is not true
func rejected(result *protocol.RecognitionResult) error {
	message := result.Error
	if message == "" {
		message = "request rejected"
	}
	return failure.Protocol(failure.PhaseReceive, message, errNotSucceeded)
}

// runStress sends count sequential tone requests, pausing the stress
// interval after each one
func (r *Runner) runStress(ctx context.Context, client *framed.Client, count int) (*StressStats, CaseResult) {
	start := time.Now()
	stats := &StressStats{Total: count}

	pcm, err := r.tone(r.config.Harness.GetStressDuration())
	if err != nil {
		return stats, caseResult(ScenarioStress, start, err)
	}

	interval := r.config.Harness.GetStressIntervalDuration()
	var latency time.Duration
	var lastErr error

	for i := 0; i < count; i++ {
		response, err := client.SendRequest(ctx, pcm)
		switch {
		case err != nil:
			lastErr = err
		case !response.Result.Succeeded():
			lastErr = rejected(response.Result)
		default:
			stats.Succeeded++
			latency += response.Latency
		}

		r.logger.Debug("Stress request finished",
			slog.Int("request", i+1),
			slog.Int("total", count),
			slog.Bool("success", err == nil && response.Result.Succeeded()))

		if ctx.Err() != nil {
			break
		}
		if interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
	}

	stats.TotalTime = time.Since(start)
	stats.SuccessRate = float64(stats.Succeeded) / float64(count)
	stats.PerRequest = stats.TotalTime / time.Duration(count)
	if stats.Succeeded > 0 {
		stats.AvgLatency = latency / time.Duration(stats.Succeeded)
	}

	r.logger.Info("Stress test completed",
		slog.Int("total", stats.Total),
		slog.Int("succeeded", stats.Succeeded),
		slog.Float64("success_rate", stats.SuccessRate),
		slog.Duration("total_time", stats.TotalTime),
		slog.Duration("avg_latency", stats.AvgLatency))

	if stats.Succeeded > 0 {
		lastErr = nil
	}
	result := caseResult(ScenarioStress, start, lastErr)
	result.Duration = stats.TotalTime
	return stats, result
}

// RunStream streams a WAV file, or a synthetic tone when wavPath is empty,
// over one WebSocket session and prints results as they arrive
func (r *Runner) RunStream(ctx context.Context, wavPath string) (*Report, error) {
	mode, err := protocol.ParseMode(r.config.Streaming.Mode)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	begin := time.Now()

	var pcm []byte
	var wavName string
	if wavPath != "" {
		clip, err := r.loadWAV(wavPath)
		if err != nil {
			r.record(report, caseResult(ScenarioStream, begin, err))
			return report, nil
		}
		pcm = clip.Data
		wavName = filepath.Base(wavPath)
	} else {
		pcm, err = r.tone(r.config.Harness.GetSyntheticDuration())
		if err != nil {
			return nil, err
		}
		wavName = fmt.Sprintf("streaming_test_%d.wav", time.Now().Unix())
	}

	start := protocol.NewStartSignal(mode, wavName).
		WithChunking(r.config.Streaming.ChunkSize, r.config.Streaming.ChunkInterval)
	start.Hotwords = r.config.Streaming.Hotwords

	session, err := stream.Dial(ctx, stream.Config{
		URL:            r.config.Server.WebSocketURL(),
		ConnectTimeout: r.config.Server.GetConnectTimeoutDuration(),
		ChunkBytes:     r.format().ChunkBytes(r.config.Audio.ChunkMs),
		PaceInterval:   r.config.Audio.GetChunkDuration(),
		GracePeriod:    r.config.Streaming.GetGracePeriodDuration(),
		DrainTimeout:   r.config.Streaming.GetDrainTimeoutDuration(),
	}, r.logger, r.metrics)
	if err != nil {
		r.record(report, caseResult(ScenarioStream, begin, err))
		return report, nil
	}
	defer session.Close()

	summary, err := session.Run(ctx, start, bytes.NewReader(pcm), r.printEvent)
	report.Stream = &summary

	result := caseResult(ScenarioStream, begin, err)
	result.Text = strings.Join(summary.Transcript, " ")
	r.record(report, result)

	return report, nil
}

// printEvent writes one server message to the output as it arrives
func (r *Runner) printEvent(e stream.Event) {
	elapsed := e.Elapsed.Round(time.Millisecond)

	switch e.Kind {
	case protocol.ResultPartial:
		fmt.Fprintf(r.out, "[%s] partial: %s\n", elapsed, e.Result.GetText())
	case protocol.ResultFinal:
		fmt.Fprintf(r.out, "[%s] final: %s\n", elapsed, e.Result.GetText())
	default:
		fmt.Fprintf(r.out, "[%s] message: %s\n", elapsed, e.Result)
	}
}

// record appends the case and logs its outcome
func (r *Runner) record(report *Report, c CaseResult) {
	report.add(c)

	if c.Passed {
		r.logger.Info("Test passed",
			slog.String("test", c.Name),
			slog.Duration("duration", c.Duration))
		return
	}

	r.logger.Error("Test failed",
		slog.String("test", c.Name),
		slog.String("phase", string(c.Phase)),
		slog.String("kind", string(c.Kind)),
		slog.String("error", c.Error))
}
