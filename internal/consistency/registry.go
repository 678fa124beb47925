// Package consistency owns the per-job registry of entity descriptions and
// the verbatim injection of those descriptions into scene prompts. The
// description text for an entity is derived once and then copied
// byte-identically into every scene that references it; this is the
// mechanism preventing visual drift across independently generated scenes.
package consistency

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"admint/internal/domain"
)

// Describer produces forensic-level entity descriptions, either from
// reference images (vision analysis) or invented from the story text.
type Describer interface {
	DescribeImages(ctx context.Context, imagePaths []string, kind domain.EntityKind) (string, error)
	InventEntity(ctx context.Context, story string, kind domain.EntityKind, name string) (string, error)
}

// Minimum description lengths per kind. A description shorter than this is
// not visually unambiguous enough to hold appearance stable across scenes.
const (
	minCharacterDescription = 160
	minProductDescription   = 120
)

// Registry holds the entity descriptions for one job. It is written only
// during derivation, before scene generation starts, and read concurrently
// by parallel scene workers afterwards; no locking is needed for reads.
type Registry struct {
	entities map[string]domain.EntityDescription
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]domain.EntityDescription)}
}

// Load seeds a registry from already-derived descriptions, e.g. when a job
// resumes after a restart.
func Load(entities []domain.EntityDescription) *Registry {
	r := NewRegistry()
	for _, e := range entities {
		r.entities[e.ID] = e
		r.order = append(r.order, e.ID)
	}
	return r
}

// Derive produces one entity description and records it. With reference
// images the description comes from vision analysis; without, the describer
// invents an equally specific one from the story's textual mentions.
func (r *Registry) Derive(ctx context.Context, d Describer, story string, kind domain.EntityKind, name string, imagePaths []string) (*domain.EntityDescription, error) {
	var (
		text string
		err  error
	)
	if len(imagePaths) > 0 {
		text, err = d.DescribeImages(ctx, imagePaths, kind)
	} else {
		text, err = d.InventEntity(ctx, story, kind, name)
	}
	if err != nil {
		return nil, fmt.Errorf("derive %s %q: %w", kind, name, err)
	}
	text = strings.TrimSpace(text)
	if len(text) < minLength(kind) {
		return nil, fmt.Errorf("derive %s %q: description too short (%d chars) to be visually unambiguous", kind, name, len(text))
	}
	entity := domain.EntityDescription{
		ID:           uuid.NewString(),
		Kind:         kind,
		Name:         name,
		Description:  text,
		SourceImages: append([]string(nil), imagePaths...),
	}
	r.entities[entity.ID] = entity
	r.order = append(r.order, entity.ID)
	return &entity, nil
}

// Get resolves an entity id, or false if it is not registered.
func (r *Registry) Get(id string) (domain.EntityDescription, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// All returns the registered entities in derivation order.
func (r *Registry) All() []domain.EntityDescription {
	out := make([]domain.EntityDescription, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entities[id])
	}
	return out
}

// Resolve maps scene entity references to live registry entries, failing if
// any reference is dangling.
func (r *Registry) Resolve(refs []string) ([]domain.EntityDescription, error) {
	out := make([]domain.EntityDescription, 0, len(refs))
	for _, id := range refs {
		e, ok := r.entities[id]
		if !ok {
			return nil, fmt.Errorf("entity reference %q not registered", id)
		}
		out = append(out, e)
	}
	return out, nil
}

// Inject appends each entity's full description verbatim to the scene's
// base description under a labeled heading. Pure string concatenation, with
// no model call and no summarization, so every scene receives byte-identical
// entity text. Entities are ordered by kind then name for determinism.
func Inject(base string, entities []domain.EntityDescription) string {
	if len(entities) == 0 {
		return base
	}
	sorted := append([]domain.EntityDescription(nil), entities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].Name < sorted[j].Name
	})
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	for _, e := range sorted {
		b.WriteString("\n\n")
		b.WriteString(heading(e.Kind))
		b.WriteString(e.Description)
	}
	return b.String()
}

func heading(kind domain.EntityKind) string {
	switch kind {
	case domain.EntityKindProduct:
		return "PRODUCT (maintain EXACT appearance): "
	default:
		return "CHARACTER (maintain EXACT appearance): "
	}
}

func minLength(kind domain.EntityKind) int {
	if kind == domain.EntityKindProduct {
		return minProductDescription
	}
	return minCharacterDescription
}
