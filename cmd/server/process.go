package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/AnEntrypoint/A2F/internal/audio"
	"github.com/AnEntrypoint/A2F/internal/inference"
	"github.com/AnEntrypoint/A2F/internal/pipeline"
)

var (
	processRate   int
	processFormat string
	saveResampled string
)

var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Convert an audio clip to one aggregated blendshape frame",
	Long: `Decode a WAV, MP3 or raw PCM16 clip, run every full window through the
model and print the aggregated frame as JSON. Raw PCM needs --rate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd, args[0])
	},
}

func init() {
	processCmd.Flags().IntVar(&processRate, "rate", 0, "sample rate of raw PCM16 input")
	processCmd.Flags().StringVar(&processFormat, "format", "", "input format (wav, mp3, pcm16); default from extension")
	processCmd.Flags().StringVar(&saveResampled, "save-resampled", "", "write the 16 kHz model input to this WAV file")
}

func runProcess(cmd *cobra.Command, path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Logging)
	// Keep stdout for the result
	if cfg.Logging.Output == "stdout" || cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
		logger = initLogger(cfg.Logging)
	}

	pcm, err := decodeInput(path)
	if err != nil {
		return err
	}

	if saveResampled != "" {
		if err := writeResampled(saveResampled, pcm); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	runner, err := inference.Open(ctx, cfg.Model.BackendConfig(), logger, nil)
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg.PipelineParams(), logger, nil)
	if err != nil {
		runner.Close()
		return err
	}
	p.Attach(runner)
	defer p.Dispose()

	result, err := p.ProcessFile(ctx, pcm.Samples, pcm.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to process %s: %w", path, err)
	}

	out, err := sonic.ConfigStd.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return writeLine(cmd.OutOrStdout(), out)
}

func decodeInput(path string) (*audio.PCM, error) {
	name := processFormat
	if name == "" {
		name = filepath.Ext(path)
	}
	format, err := audio.ParseFormat(name)
	if err != nil {
		return nil, err
	}

	if format != audio.FormatPCM16 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio file %s: %w", path, err)
		}
		defer f.Close()
		return audio.Decode(f, format)
	}

	if processRate == 0 {
		return nil, fmt.Errorf("raw PCM input needs --rate")
	}
	if err := audio.ValidateSampleRate(processRate); err != nil {
		return nil, fmt.Errorf("invalid --rate: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file %s: %w", path, err)
	}
	defer f.Close()
	return audio.DecodePCM16(f, processRate)
}

func writeResampled(path string, pcm *audio.PCM) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	resampled := &audio.PCM{
		Samples:    audio.Resample(pcm.Samples, pcm.SampleRate, audio.SampleRate),
		SampleRate: audio.SampleRate,
	}
	return audio.WriteWAV(f, resampled)
}

func writeLine(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
