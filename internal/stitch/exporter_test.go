package stitch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"admint/internal/domain"
)

type fakeRunner struct {
	commands [][]string
	fail     func(args []string) error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	all := append([]string{name}, args...)
	f.commands = append(f.commands, all)
	if f.fail != nil {
		return f.fail(all)
	}
	return nil
}

func testInput(dir string, clips ...Clip) Input {
	return Input{
		Clips:      clips,
		OutputPath: filepath.Join(dir, "final.mp4"),
		WorkDir:    dir,
	}
}

func TestExportOrdersClipsByIndex(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	exporter := NewExporter(runner, "ffmpeg", zerolog.Nop())

	// Completion order deliberately scrambled: scene 3 finished first.
	_, _, err := exporter.Export(context.Background(), testInput(dir,
		Clip{Index: 3, Path: "/clips/three.mp4"},
		Clip{Index: 1, Path: "/clips/one.mp4"},
		Clip{Index: 2, Path: "/clips/two.mp4"},
		Clip{Index: 0, Path: "/clips/zero.mp4"},
	))
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	list, readErr := readFile(filepath.Join(dir, "concat.txt"))
	if readErr != nil {
		t.Fatalf("read concat list: %v", readErr)
	}
	want := "file '/clips/zero.mp4'\nfile '/clips/one.mp4'\nfile '/clips/two.mp4'\nfile '/clips/three.mp4'\n"
	if list != want {
		t.Fatalf("concat list =\n%s\nwant\n%s", list, want)
	}
}

func TestExportSkipsMissingClipsWithWarning(t *testing.T) {
	dir := t.TempDir()
	exporter := NewExporter(&fakeRunner{}, "ffmpeg", zerolog.Nop())
	_, warnings, err := exporter.Export(context.Background(), testInput(dir,
		Clip{Index: 0, Path: "/clips/zero.mp4"},
		Clip{Index: 1, Path: ""},
		Clip{Index: 2, Path: "/clips/two.mp4"},
	))
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "scene 1") {
		t.Fatalf("warnings = %v, want one warning about scene 1", warnings)
	}
}

func TestExportFailsWhenZeroClipsUsable(t *testing.T) {
	dir := t.TempDir()
	exporter := NewExporter(&fakeRunner{}, "ffmpeg", zerolog.Nop())
	_, _, err := exporter.Export(context.Background(), testInput(dir,
		Clip{Index: 0, Path: ""},
		Clip{Index: 1, Path: ""},
	))
	if !errors.Is(err, domain.ErrNoScenesSucceeded) {
		t.Fatalf("error = %v, want ErrNoScenesSucceeded", err)
	}
}

func TestExportContinuesWithoutAudioOnAudioFailure(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{
		fail: func(args []string) error {
			for _, a := range args {
				if a == "aac" {
					return errors.New("audio stream corrupt")
				}
			}
			return nil
		},
	}
	exporter := NewExporter(runner, "ffmpeg", zerolog.Nop())
	in := testInput(dir, Clip{Index: 0, Path: "/clips/zero.mp4"})
	in.AudioPath = "/audio/track.mp3"
	out, warnings, err := exporter.Export(context.Background(), in)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if out == "" {
		t.Fatal("expected an output path despite audio failure")
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "audio") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, want audio degradation warning", warnings)
	}
}

func TestExportConcatFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{
		fail: func(args []string) error {
			for _, a := range args {
				if a == "concat" {
					return errors.New("bad clip header")
				}
			}
			return nil
		},
	}
	exporter := NewExporter(runner, "ffmpeg", zerolog.Nop())
	if _, _, err := exporter.Export(context.Background(), testInput(dir, Clip{Index: 0, Path: "/c.mp4"})); err == nil {
		t.Fatal("expected fatal error when concatenation fails")
	}
}

func TestDrawtextFilterEscapesText(t *testing.T) {
	f := drawtextFilter(TextOverlay{Text: "it's 50:50", Start: 0, End: 2, Position: "bottom"})
	if strings.Contains(f, "it's") {
		t.Fatalf("unescaped quote in filter: %s", f)
	}
	if !strings.Contains(f, "between(t,0.00,2.00)") {
		t.Fatalf("enable window missing: %s", f)
	}
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}
