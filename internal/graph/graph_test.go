package graph

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
)

func TestCanonicalOrdering(t *testing.T) {
	cases := []struct {
		a, b, wantLo, wantHi string
	}{
		{"alex", "sam", "alex", "sam"},
		{"sam", "alex", "alex", "sam"},
		{"mia", "mia2", "mia", "mia2"},
	}
	for _, c := range cases {
		lo, hi := Canonical(c.a, c.b)
		if lo != c.wantLo || hi != c.wantHi {
			t.Errorf("Canonical(%q, %q) = %q, %q", c.a, c.b, lo, hi)
		}
		// Both argument orders map to the same stored edge.
		lo2, hi2 := Canonical(c.b, c.a)
		if lo2 != lo || hi2 != hi {
			t.Errorf("Canonical is not symmetric for %q, %q", c.a, c.b)
		}
	}
}

func TestUnionTypes(t *testing.T) {
	got := UnionTypes([]string{"friend", "colleague"}, []string{"colleague", "mentor"})
	want := []string{"colleague", "friend", "mentor"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UnionTypes = %v, want %v", got, want)
	}

	if got := UnionTypes(nil, []string{"friend"}); !reflect.DeepEqual(got, []string{"friend"}) {
		t.Errorf("UnionTypes with nil existing = %v", got)
	}
}

func TestDefaultStrengthKeepsStronger(t *testing.T) {
	if got := DefaultStrength(0.3, 0.7); got != 0.7 {
		t.Errorf("got %v", got)
	}
	if got := DefaultStrength(0.9, 0.2); got != 0.9 {
		t.Errorf("got %v", got)
	}
}

func TestCustomCombinatorSelected(t *testing.T) {
	avg := func(a, b float64) float64 { return (a + b) / 2 }
	g := New(nil, avg, zap.NewNop())
	if got := g.combine(0.4, 0.8); got != 0.6 {
		t.Errorf("custom combinator not used: %v", got)
	}

	g = New(nil, nil, zap.NewNop())
	if got := g.combine(0.4, 0.8); got != 0.8 {
		t.Errorf("default combinator not selected: %v", got)
	}
}

func TestUpsertValidation(t *testing.T) {
	g := New(nil, nil, zap.NewNop())
	ctx := context.Background()

	if err := g.UpsertNode(ctx, Node{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("empty node id: got %v", err)
	}
	if err := g.UpsertLink(ctx, "", "sam", LinkAttrs{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("empty endpoint: got %v", err)
	}
	if err := g.UpsertLink(ctx, "sam", "sam", LinkAttrs{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("self link: got %v", err)
	}
}
