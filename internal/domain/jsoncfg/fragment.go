package jsoncfg

import (
	"fmt"
	"strings"
)

// Fragment is the compact structured description of one scene, produced at
// the LLM boundary and consumed by the prompt assembler. Each field is a
// short phrase, not finished prose.
type Fragment struct {
	Subject      string `json:"subject"`
	Action       string `json:"action"`
	Camera       string `json:"camera"`
	Lighting     string `json:"lighting"`
	Mood         string `json:"mood"`
	ProductUsage string `json:"product_usage"`
}

var allowedCameraMoves = map[string]struct{}{
	"static":    {},
	"push-in":   {},
	"pull-out":  {},
	"pan-left":  {},
	"pan-right": {},
	"tilt-up":   {},
	"tilt-down": {},
	"glide":     {},
}

const (
	// DefaultCameraMove is substituted for any unrecognized camera value.
	DefaultCameraMove = "static"
	// MaxFieldLength bounds each fragment field before prompt assembly.
	MaxFieldLength = 120
)

// Normalize trims and clamps every field so downstream assembly works from a
// bounded vocabulary. Unrecognized camera movements map to the static
// default rather than passing through raw.
func (f *Fragment) Normalize() {
	if f == nil {
		return
	}
	f.Subject = clampField(f.Subject)
	f.Action = clampField(f.Action)
	f.Lighting = clampField(f.Lighting)
	f.Mood = clampField(f.Mood)
	f.ProductUsage = clampField(f.ProductUsage)

	camera := strings.ToLower(strings.TrimSpace(f.Camera))
	camera = strings.ReplaceAll(camera, " ", "-")
	camera = strings.ReplaceAll(camera, "_", "-")
	if _, ok := allowedCameraMoves[camera]; !ok {
		camera = DefaultCameraMove
	}
	f.Camera = camera
}

// Validate rejects fragments that carry no scene-specific content. A scene
// with an empty fragment must fail loudly rather than silently inherit a
// sibling scene's prompt.
func (f Fragment) Validate() error {
	if f.Empty() {
		return fmt.Errorf("fragment has no subject or action")
	}
	return nil
}

// Empty reports whether the fragment carries no usable content at all.
func (f Fragment) Empty() bool {
	return strings.TrimSpace(f.Subject) == "" &&
		strings.TrimSpace(f.Action) == "" &&
		strings.TrimSpace(f.ProductUsage) == ""
}

func clampField(v string) string {
	v = strings.Join(strings.Fields(v), " ")
	// Truncate at a rune boundary; a byte slice could split a multi-byte
	// rune and leak invalid UTF-8 into assembled prompts.
	if runes := []rune(v); len(runes) > MaxFieldLength {
		v = strings.TrimSpace(string(runes[:MaxFieldLength]))
	}
	return v
}
