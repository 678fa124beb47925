package consistency

import (
	"context"
	"errors"
	"strings"
	"testing"

	"admint/internal/domain"
)

type fakeDescriber struct {
	describe func(context.Context, []string, domain.EntityKind) (string, error)
	invent   func(context.Context, string, domain.EntityKind, string) (string, error)
}

func (f fakeDescriber) DescribeImages(ctx context.Context, paths []string, kind domain.EntityKind) (string, error) {
	if f.describe != nil {
		return f.describe(ctx, paths, kind)
	}
	return "", errors.New("describe not implemented")
}

func (f fakeDescriber) InventEntity(ctx context.Context, story string, kind domain.EntityKind, name string) (string, error) {
	if f.invent != nil {
		return f.invent(ctx, story, kind, name)
	}
	return "", errors.New("invent not implemented")
}

const longCharacter = "A woman in her early thirties, around 170cm with an athletic build, shoulder-length wavy auburn hair parted on the left, oval face, hazel eyes, light olive skin, a small crescent scar above the right eyebrow, warm confident expression, wearing a charcoal blazer over a white linen shirt."

func TestDeriveWithoutImagesInventsFromStory(t *testing.T) {
	r := NewRegistry()
	d := fakeDescriber{
		invent: func(ctx context.Context, story string, kind domain.EntityKind, name string) (string, error) {
			return longCharacter, nil
		},
	}
	entity, err := r.Derive(context.Background(), d, "story text", domain.EntityKindCharacter, "founder", nil)
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	if entity.Description == "" {
		t.Fatal("expected a non-empty invented description")
	}
	if len(entity.SourceImages) != 0 {
		t.Fatalf("SourceImages = %v, want empty", entity.SourceImages)
	}
	if got, ok := r.Get(entity.ID); !ok || got.Description != entity.Description {
		t.Fatal("derived entity not registered")
	}
}

func TestDeriveWithImagesUsesVision(t *testing.T) {
	r := NewRegistry()
	var gotPaths []string
	d := fakeDescriber{
		describe: func(ctx context.Context, paths []string, kind domain.EntityKind) (string, error) {
			gotPaths = paths
			return longCharacter, nil
		},
	}
	entity, err := r.Derive(context.Background(), d, "story", domain.EntityKindCharacter, "founder", []string{"/tmp/ref1.png", "/tmp/ref2.png"})
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	if len(gotPaths) != 2 {
		t.Fatalf("vision call received %d paths, want 2", len(gotPaths))
	}
	if len(entity.SourceImages) != 2 {
		t.Fatalf("SourceImages = %v, want both reference paths", entity.SourceImages)
	}
}

func TestDeriveRejectsShortDescriptions(t *testing.T) {
	r := NewRegistry()
	d := fakeDescriber{
		invent: func(ctx context.Context, story string, kind domain.EntityKind, name string) (string, error) {
			return "a woman with brown hair", nil
		},
	}
	if _, err := r.Derive(context.Background(), d, "story", domain.EntityKindCharacter, "founder", nil); err == nil {
		t.Fatal("expected error for a description too short to pin appearance")
	}
}

func TestInjectIsByteIdenticalAcrossScenes(t *testing.T) {
	entity := domain.EntityDescription{
		ID:          "e1",
		Kind:        domain.EntityKindCharacter,
		Name:        "founder",
		Description: longCharacter,
	}
	a := Inject("Scene one: she opens the shop", []domain.EntityDescription{entity})
	b := Inject("Scene two: she serves the first customer", []domain.EntityDescription{entity})

	marker := "CHARACTER (maintain EXACT appearance): " + longCharacter
	if !strings.Contains(a, marker) || !strings.Contains(b, marker) {
		t.Fatal("injected entity block missing or altered")
	}
	if a[strings.Index(a, marker):] != b[strings.Index(b, marker):] {
		t.Fatal("entity blocks differ between scenes")
	}
}

func TestInjectIsDeterministicForMultipleEntities(t *testing.T) {
	char := domain.EntityDescription{ID: "c", Kind: domain.EntityKindCharacter, Name: "founder", Description: "char desc"}
	prod := domain.EntityDescription{ID: "p", Kind: domain.EntityKindProduct, Name: "bottle", Description: "prod desc"}

	a := Inject("base", []domain.EntityDescription{prod, char})
	b := Inject("base", []domain.EntityDescription{char, prod})
	if a != b {
		t.Fatalf("Inject output depends on input order:\n%q\n%q", a, b)
	}
}

func TestResolveFailsOnDanglingReference(t *testing.T) {
	r := Load([]domain.EntityDescription{{ID: "e1", Kind: domain.EntityKindProduct, Name: "bottle", Description: "d"}})
	if _, err := r.Resolve([]string{"e1", "missing"}); err == nil {
		t.Fatal("expected error for dangling entity reference")
	}
	got, err := r.Resolve([]string{"e1"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("Resolve = %+v, want e1", got)
	}
}
