package tier_test

import (
	"testing"

	"github.com/codegraph/querycore/internal/tier"
	"github.com/codegraph/querycore/pkg/codegraph"
)

func TestSelect_DefaultTable(t *testing.T) {
	s := tier.NewSelector()

	tests := []struct {
		name   string
		window int
		want   codegraph.TierName
	}{
		{"well below small breakpoint", 0, codegraph.TierSmall},
		{"just below small breakpoint", 49_999, codegraph.TierSmall},
		{"at small breakpoint", 50_000, codegraph.TierMedium},
		{"middle of medium", 100_000, codegraph.TierMedium},
		{"just below medium breakpoint", 149_999, codegraph.TierMedium},
		{"at medium breakpoint", 150_000, codegraph.TierLarge},
		{"just below large breakpoint", 499_999, codegraph.TierLarge},
		{"at large breakpoint", 500_000, codegraph.TierMassive},
		{"well above large breakpoint", 2_000_000, codegraph.TierMassive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Select(tt.window)
			if got.Tier != tt.want {
				t.Errorf("Select(%d).Tier = %s, want %s", tt.window, got.Tier, tt.want)
			}
		})
	}
}

func TestSelect_NegativeWindowTreatedAsZero(t *testing.T) {
	s := tier.NewSelector()
	got := s.Select(-100)
	want := s.Select(0)
	if got != want {
		t.Errorf("Select(-100) = %+v, want %+v (same as Select(0))", got, want)
	}
	if got.Tier != codegraph.TierSmall {
		t.Errorf("Select(-100).Tier = %s, want %s", got.Tier, codegraph.TierSmall)
	}
}

func TestSelect_ProfileFieldsMatchTier(t *testing.T) {
	s := tier.NewSelector()
	small := s.Select(0)
	if small.MaxSteps != 5 || small.ResultLimit != 10 || small.Verbosity != codegraph.VerbosityTerse {
		t.Errorf("Small tier profile unexpected: %+v", small)
	}
	massive := s.Select(1_000_000)
	if massive.MaxSteps != 20 || massive.ResultLimit != 100 || massive.Verbosity != codegraph.VerbosityExploratory {
		t.Errorf("Massive tier profile unexpected: %+v", massive)
	}
}

func TestWithTable_OverridesDefaults(t *testing.T) {
	table := []codegraph.TierProfile{
		{Tier: "A", MaxSteps: 1},
		{Tier: "B", MaxSteps: 2},
	}
	s := tier.NewSelector(tier.WithTable(table, []int{10}))

	if got := s.Select(5).Tier; got != "A" {
		t.Errorf("Select(5).Tier = %s, want A", got)
	}
	if got := s.Select(10).Tier; got != "B" {
		t.Errorf("Select(10).Tier = %s, want B", got)
	}
}

func TestWithTable_MismatchedLengthPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for mismatched table/breakpoints length")
		}
	}()
	tier.NewSelector(tier.WithTable([]codegraph.TierProfile{{Tier: "A"}}, []int{1, 2}))
}
