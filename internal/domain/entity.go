package domain

// EntityKind enumerates the recurring subject categories tracked for
// cross-scene visual consistency.
type EntityKind string

const (
	EntityKindCharacter EntityKind = "character"
	EntityKindProduct   EntityKind = "product"
)

// EntityDescription is the single source of truth for one recurring subject
// across all scenes of a job. The Description text is copied verbatim into
// every scene prompt that references the entity; it is never paraphrased or
// regenerated per scene. Read-only after derivation.
type EntityDescription struct {
	ID          string     `json:"id"`
	Kind        EntityKind `json:"kind"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	SourceImages []string  `json:"source_images,omitempty"`
}
