// Package stitch assembles ordered per-scene clips into the final ad video
// with ffmpeg: concatenate video, layer audio, layer text overlays, final
// encode. Each step after concatenation degrades gracefully on failure.
package stitch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"admint/internal/domain"
)

// Runner executes an external command. Tests inject a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner shells out via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, tail(string(out)))
	}
	return nil
}

// Clip is one scene's artifact in playback order. Clips whose Path is empty
// were marked failed upstream and are skipped with a warning.
type Clip struct {
	Index int
	Path  string
}

// TextOverlay is one drawtext layer on the final video.
type TextOverlay struct {
	Text     string
	Start    float64
	End      float64
	Position string // "top", "center", "bottom"
}

// Input is everything the exporter needs for one job.
type Input struct {
	Clips      []Clip
	AudioPath  string
	Overlays   []TextOverlay
	OutputPath string
	WorkDir    string
}

// Exporter drives the ffmpeg assembly.
type Exporter struct {
	runner     Runner
	ffmpegPath string
	logger     zerolog.Logger
}

// NewExporter builds an exporter; ffmpegPath defaults to "ffmpeg" on PATH.
func NewExporter(runner Runner, ffmpegPath string, logger zerolog.Logger) *Exporter {
	if runner == nil {
		runner = ExecRunner{}
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Exporter{runner: runner, ffmpegPath: ffmpegPath, logger: logger}
}

// Export produces the final file and returns its path plus any degradation
// warnings. If zero clips are usable the export fails outright.
func (e *Exporter) Export(ctx context.Context, in Input) (string, []string, error) {
	var warnings []string

	clips := append([]Clip(nil), in.Clips...)
	// Output order must match scene index order regardless of which scene
	// finished generating first.
	sort.SliceStable(clips, func(i, j int) bool { return clips[i].Index < clips[j].Index })

	usable := clips[:0]
	for _, c := range clips {
		if strings.TrimSpace(c.Path) == "" {
			warnings = append(warnings, fmt.Sprintf("scene %d missing, skipped in final cut", c.Index))
			continue
		}
		usable = append(usable, c)
	}
	if len(usable) == 0 {
		return "", warnings, fmt.Errorf("stitch: %w", domain.ErrNoScenesSucceeded)
	}

	workDir := in.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(in.OutputPath)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", warnings, fmt.Errorf("stitch: ensure work dir: %w", err)
	}

	current, err := e.concatenate(ctx, usable, workDir)
	if err != nil {
		return "", warnings, fmt.Errorf("stitch: concatenate: %w", err)
	}

	if in.AudioPath != "" {
		withAudio := filepath.Join(workDir, "with_audio.mp4")
		if err := e.layerAudio(ctx, current, in.AudioPath, withAudio); err != nil {
			e.logger.Warn().Err(err).Msg("stitch: audio layering failed, continuing without audio")
			warnings = append(warnings, "audio layering failed, final video has no audio track")
		} else {
			current = withAudio
		}
	}

	if len(in.Overlays) > 0 {
		withOverlays := filepath.Join(workDir, "with_overlays.mp4")
		if err := e.layerOverlays(ctx, current, in.Overlays, withOverlays); err != nil {
			e.logger.Warn().Err(err).Msg("stitch: overlay pass failed, continuing without overlays")
			warnings = append(warnings, "text overlays failed, final video has no overlays")
		} else {
			current = withOverlays
		}
	}

	if err := e.finalEncode(ctx, current, in.OutputPath); err != nil {
		return "", warnings, fmt.Errorf("stitch: final encode: %w", err)
	}
	return in.OutputPath, warnings, nil
}

func (e *Exporter) concatenate(ctx context.Context, clips []Clip, workDir string) (string, error) {
	listFile := filepath.Join(workDir, "concat.txt")
	var lines []string
	for _, c := range clips {
		lines = append(lines, fmt.Sprintf("file '%s'", c.Path))
	}
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	out := filepath.Join(workDir, "concat_raw.mp4")
	err := e.runner.Run(ctx, e.ffmpegPath, "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "20",
		"-pix_fmt", "yuv420p",
		out,
	)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (e *Exporter) layerAudio(ctx context.Context, video, audio, out string) error {
	return e.runner.Run(ctx, e.ffmpegPath, "-y",
		"-i", video,
		"-i", audio,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		out,
	)
}

func (e *Exporter) layerOverlays(ctx context.Context, video string, overlays []TextOverlay, out string) error {
	var filters []string
	for _, o := range overlays {
		filters = append(filters, drawtextFilter(o))
	}
	return e.runner.Run(ctx, e.ffmpegPath, "-y",
		"-i", video,
		"-vf", strings.Join(filters, ","),
		"-c:a", "copy",
		out,
	)
}

func (e *Exporter) finalEncode(ctx context.Context, in, out string) error {
	return e.runner.Run(ctx, e.ffmpegPath, "-y",
		"-i", in,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "18",
		"-movflags", "+faststart",
		out,
	)
}

func drawtextFilter(o TextOverlay) string {
	y := "(h-text_h)/2"
	switch o.Position {
	case "top":
		y = "h*0.08"
	case "bottom":
		y = "h*0.85"
	}
	text := strings.NewReplacer("'", "\\'", ":", "\\:").Replace(o.Text)
	return fmt.Sprintf(
		"drawtext=text='%s':x=(w-text_w)/2:y=%s:fontsize=48:fontcolor=white:borderw=2:enable='between(t,%.2f,%.2f)'",
		text, y, o.Start, o.End,
	)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 400 {
		return s
	}
	return "..." + s[len(s)-400:]
}

var _ Runner = ExecRunner{}
