package resolve_test

import (
	"errors"
	"testing"

	"github.com/operiq/support-sync/internal/resolve"
	"github.com/operiq/support-sync/internal/support"
)

func TestFuzzyMatch_ExactHit(t *testing.T) {
	items := []resolve.Named{
		{ID: "c1", Name: "Refund for booking 88"},
		{ID: "c2", Name: "Refund for booking 89"},
	}
	id, err := resolve.FuzzyMatch("refund for booking 89", items)
	if err != nil {
		t.Fatal(err)
	}
	if id != "c2" {
		t.Fatalf("expected c2, got %s", id)
	}
}

func TestFuzzyMatch_PartialHit(t *testing.T) {
	items := []resolve.Named{
		{ID: "c1", Name: "Payment declined"},
		{ID: "c2", Name: "Driver late"},
	}
	id, err := resolve.FuzzyMatch("paydec", items)
	if err != nil {
		t.Fatal(err)
	}
	if id != "c1" {
		t.Fatalf("expected c1, got %s", id)
	}
}

func TestFuzzyMatch_Errors(t *testing.T) {
	items := []resolve.Named{{ID: "c1", Name: "Payment declined"}}

	if _, err := resolve.FuzzyMatch("  ", items); !errors.Is(err, resolve.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := resolve.FuzzyMatch("x", nil); !errors.Is(err, resolve.ErrEmptyItems) {
		t.Fatalf("expected ErrEmptyItems, got %v", err)
	}
	if _, err := resolve.FuzzyMatch("zzz", items); err == nil {
		t.Fatal("expected no-match error")
	}
}

func TestFuzzyMatch_Ambiguous(t *testing.T) {
	items := []resolve.Named{
		{ID: "c1", Name: "Invoice A"},
		{ID: "c2", Name: "Invoice B"},
	}
	_, err := resolve.FuzzyMatch("invoice", items)
	var amb *resolve.AmbiguousError
	if !errors.As(err, &amb) {
		t.Fatalf("expected AmbiguousError, got %v", err)
	}
	if len(amb.Matches) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(amb.Matches))
	}
}

func TestFuzzyMatch_SameIDLabelsAreNotAmbiguous(t *testing.T) {
	items := []resolve.Named{
		{ID: "c1", Name: "Ana Ruiz"},
		{ID: "c1", Name: "Ana Ruiz Travel"},
	}
	id, err := resolve.FuzzyMatch("anaruiz", items)
	if err != nil {
		t.Fatal(err)
	}
	if id != "c1" {
		t.Fatalf("expected c1, got %s", id)
	}
}

func TestFuzzyMatchAll_Limit(t *testing.T) {
	items := []resolve.Named{
		{ID: "c1", Name: "late driver"},
		{ID: "c2", Name: "late payment"},
		{ID: "c3", Name: "late refund"},
	}
	if got := resolve.FuzzyMatchAll("late", items, 2); len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got := resolve.FuzzyMatchAll("late", items, 0); got != nil {
		t.Fatalf("expected nil for zero limit, got %v", got)
	}
}

func TestConversation(t *testing.T) {
	convs := []support.Conversation{
		{ID: "665f1c", Title: "Conversation with Ana", Participants: [2]support.Participant{{DisplayName: "Ana"}, {}}},
		{ID: "665f2d", Title: "Lost luggage", Participants: [2]support.Participant{{DisplayName: "Luis", CompanyName: "Transportes Norte"}, {}}},
	}

	tests := []struct {
		ref  string
		want string
	}{
		{"665f2d", "665f2d"},
		{"ana", "665f1c"},
		{"Lost luggage", "665f2d"},
		{"norte", "665f2d"},
	}
	for _, tt := range tests {
		got, err := resolve.Conversation(tt.ref, convs)
		if err != nil {
			t.Fatalf("Conversation(%q): %v", tt.ref, err)
		}
		if got != tt.want {
			t.Errorf("Conversation(%q) = %s, want %s", tt.ref, got, tt.want)
		}
	}
}
