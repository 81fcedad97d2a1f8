package store

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"aluastro/pkg/domain"
)

func strPtr(s string) *string { return &s }

func sampleApplication() domain.Application {
	return domain.Application{
		FullName:   "Ada Lovelace",
		Email:      "ada@alu.edu",
		Phone:      strPtr("+250 788 000 000"),
		Department: nil,
		Reason:     "I love the stars and want to learn more.",
		Skills:     strPtr("Python"),
		Consent:    true,
		CVPath:     strPtr("cv/1760000000000-abc123-cv.pdf"),
		Attachment: &domain.AttachmentMeta{OriginalFilename: "cv.pdf", ContentType: "application/pdf", SizeBytes: 42},
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	in := sampleApplication()
	in.ID = "client-chosen"

	saved, err := m.AddApplication(ctx, in)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if saved.ID == "client-chosen" {
		t.Fatalf("store must assign its own id")
	}
	if _, err := uuid.Parse(saved.ID); err != nil {
		t.Fatalf("id %q is not a uuid: %v", saved.ID, err)
	}
	if saved.CreatedAt.IsZero() {
		t.Fatalf("createdAt not assigned")
	}

	got, ok, err := m.GetApplication(ctx, saved.ID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.FullName != in.FullName || got.Email != in.Email || got.Reason != in.Reason || !got.Consent {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if *got.Phone != *in.Phone || got.Department != nil || *got.Skills != *in.Skills || *got.CVPath != *in.CVPath {
		t.Fatalf("optional fields mismatch: %+v", got)
	}
	if *got.Attachment != *in.Attachment {
		t.Fatalf("attachment mismatch: %+v", got.Attachment)
	}
	if !got.CreatedAt.Equal(saved.CreatedAt) {
		t.Fatalf("createdAt changed: %v vs %v", got.CreatedAt, saved.CreatedAt)
	}
}

func TestMemoryStoreAssignsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	a, _ := m.AddApplication(ctx, sampleApplication())
	b, _ := m.AddApplication(ctx, sampleApplication())
	if a.ID == b.ID {
		t.Fatalf("identical payloads must produce distinct ids")
	}
	if got := len(m.ListApplications()); got != 2 {
		t.Fatalf("stored %d applications, want 2", got)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	saved, _ := m.AddApplication(ctx, sampleApplication())
	*saved.Phone = "mutated"
	got, _, _ := m.GetApplication(ctx, saved.ID)
	if *got.Phone == "mutated" {
		t.Fatalf("store leaked internal pointer")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	_, ok, err := NewMemoryStore().GetApplication(context.Background(), "missing")
	if ok || err != nil {
		t.Fatalf("expected not found, got ok=%v err=%v", ok, err)
	}
}
