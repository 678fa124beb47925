// Package prompt turns structured scene fragments into natural-language
// prompts tuned to the target generative model's register.
package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"admint/internal/consistency"
	"admint/internal/domain"
	"admint/internal/domain/jsoncfg"
)

// Register selects the target model's preferred prompt length.
type Register int

const (
	// RegisterConcise targets highly-constrained models (20-45 words for
	// the scene-specific portion).
	RegisterConcise Register = iota
	// RegisterLongForm targets models that accept long-form prompts.
	RegisterLongForm
)

const (
	conciseWordLimit  = 45
	longFormWordLimit = 300
)

// DefaultNegativePrompt lists the artifacts suppressed on every generation.
const DefaultNegativePrompt = "blurry, distorted faces, extra limbs, warped hands, watermark, text artifacts, oversaturated, flickering, low quality"

// Input is everything the assembler needs for one scene.
type Input struct {
	Fragment jsoncfg.Fragment
	Entities []domain.EntityDescription
	// HasReferenceImages switches the wording so the text prompt does not
	// re-describe appearance the reference image already encodes.
	HasReferenceImages bool
	Register           Register
}

// Output is the assembled prompt pair plus the generation mode decided for
// the scene.
type Output struct {
	Prompt         string
	NegativePrompt string
	Mode           domain.GenerationMode
}

var cameraPhrases = map[string]string{
	"static":    "static shot",
	"push-in":   "slow push-in",
	"pull-out":  "slow pull-out",
	"pan-left":  "camera panning left",
	"pan-right": "camera panning right",
	"tilt-up":   "camera tilting up",
	"tilt-down": "camera tilting down",
	"glide":     "smooth gliding camera",
}

var sentenceCaser = cases.Title(language.English)

// Assemble builds the scene prompt. It fails loudly when the fragment
// carries no scene-specific content; falling back to another scene's prompt
// is exactly the regression this package exists to prevent.
func Assemble(in Input) (Output, error) {
	frag := in.Fragment
	frag.Normalize()
	if err := frag.Validate(); err != nil {
		return Output{}, fmt.Errorf("%w: %v", domain.ErrEmptyFragment, err)
	}

	subjectPresent := strings.TrimSpace(frag.Subject) != ""
	mode := domain.DecideMode(in.HasReferenceImages, subjectPresent)

	clauses := make([]string, 0, 6)
	if subjectPresent {
		if frag.Action != "" {
			clauses = append(clauses, frag.Subject+" "+frag.Action)
		} else {
			clauses = append(clauses, frag.Subject)
		}
	} else if frag.Action != "" {
		clauses = append(clauses, frag.Action)
	}
	if frag.ProductUsage != "" {
		clauses = append(clauses, frag.ProductUsage)
	}
	if phrase, ok := cameraPhrases[frag.Camera]; ok {
		clauses = append(clauses, phrase)
	}
	if frag.Lighting != "" {
		clauses = append(clauses, frag.Lighting)
	}
	if frag.Mood != "" {
		clauses = append(clauses, frag.Mood+" mood")
	}

	scenePart := strings.Join(clauses, ", ")
	scenePart = truncateAtClause(scenePart, wordLimit(in.Register))
	scenePart = capitalize(scenePart)

	var full string
	if in.HasReferenceImages {
		// The reference image carries appearance; repeating the forensic
		// description would make the text prompt fight the image prompt.
		full = scenePart + ", match the subject exactly as shown in the reference image"
	} else {
		full = consistency.Inject(scenePart, in.Entities)
	}

	if strings.TrimSpace(full) == "" {
		return Output{}, fmt.Errorf("%w: assembled prompt is empty", domain.ErrEmptyFragment)
	}

	return Output{
		Prompt:         full,
		NegativePrompt: DefaultNegativePrompt,
		Mode:           mode,
	}, nil
}

func wordLimit(r Register) int {
	if r == RegisterLongForm {
		return longFormWordLimit
	}
	return conciseWordLimit
}

// truncateAtClause trims the text to at most limit words, cutting only at
// clause boundaries so no sentence ends mid-thought.
func truncateAtClause(text string, limit int) string {
	if len(strings.Fields(text)) <= limit {
		return text
	}
	clauses := strings.Split(text, ", ")
	kept := make([]string, 0, len(clauses))
	words := 0
	for _, c := range clauses {
		n := len(strings.Fields(c))
		if words+n > limit && len(kept) > 0 {
			break
		}
		kept = append(kept, c)
		words += n
	}
	return strings.Join(kept, ", ")
}

func capitalize(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	first := sentenceCaser.String(fields[0])
	return first + s[len(fields[0]):]
}
