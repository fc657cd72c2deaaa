package extract

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"omniacore/internal/contract"
	"omniacore/internal/types"
)

func dateContract() *contract.SemanticContract {
	return &contract.SemanticContract{
		Kind: types.KindDate,
		SubDataMapping: map[string]contract.SubDatum{
			"d": {CanonicalKey: "day"},
			"m": {CanonicalKey: "month"},
			"y": {CanonicalKey: "year"},
		},
		Patterns: []string{
			`(?P<day>\d{1,2})/(?P<month>\d{1,2})/(?P<year>\d{4})`,
		},
	}
}

func TestRegexEngineNamedGroups(t *testing.T) {
	engine := NewRegexEngine()
	res := engine.Extract(context.Background(), "sono nato il 16/12/1961", dateContract())
	if !res.OK {
		t.Fatalf("extraction failed: %s", res.Err)
	}
	want := map[string]string{"day": "16", "month": "12", "year": "1961"}
	if diff := cmp.Diff(want, res.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	if res.Confidence < ConfidenceRule {
		t.Errorf("confidence %v below the rule-engine floor", res.Confidence)
	}
	if res.Engine != types.EngineRegex {
		t.Errorf("engine = %s", res.Engine)
	}
}

func TestRegexEnginePositionalGroups(t *testing.T) {
	c := dateContract()
	c.Patterns = []string{`(\d{1,2})/(\d{1,2})/(\d{4})`}
	res := NewRegexEngine().Extract(context.Background(), "16/12/1961", c)
	if !res.OK {
		t.Fatalf("extraction failed: %s", res.Err)
	}
	// Unnamed groups fill the vocabulary order: day, month, year.
	want := map[string]string{"day": "16", "month": "12", "year": "1961"}
	if diff := cmp.Diff(want, res.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestRegexEngineBase10Coercion(t *testing.T) {
	res := NewRegexEngine().Extract(context.Background(), "07/08/1990", dateContract())
	if !res.OK {
		t.Fatalf("extraction failed: %s", res.Err)
	}
	if res.Fields["day"] != "7" || res.Fields["month"] != "8" {
		t.Errorf("leading zeros survived coercion: %v", res.Fields)
	}
}

func TestRegexEnginePatternOrder(t *testing.T) {
	c := dateContract()
	// The first pattern that matches wins, even when a later one would too.
	c.Patterns = []string{
		`(?P<year>\d{4})-(?P<month>\d{1,2})-(?P<day>\d{1,2})`,
		`(?P<day>\d{1,2})/(?P<month>\d{1,2})/(?P<year>\d{4})`,
	}
	res := NewRegexEngine().Extract(context.Background(), "1961-12-16", c)
	if !res.OK || res.Fields["day"] != "16" {
		t.Fatalf("first pattern did not win: %v", res)
	}
}

func TestRegexEngineNoMatch(t *testing.T) {
	res := NewRegexEngine().Extract(context.Background(), "nessuna data qui", dateContract())
	if res.OK {
		t.Fatal("expected no match")
	}
	if res.Err != types.ErrorNoMatch {
		t.Errorf("err = %s, want no_match", res.Err)
	}
}

func TestRegexEngineEmptyPatternList(t *testing.T) {
	c := &contract.SemanticContract{Kind: types.KindText}
	res := NewRegexEngine().Extract(context.Background(), "anything", c)
	if res.OK || res.Err != types.ErrorNoMatch {
		t.Errorf("empty pattern list should be a quiet no-match, got %v", res)
	}
}
