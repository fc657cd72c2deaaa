package dialogue

import (
	"context"
	"strings"
	"testing"

	"omniacore/internal/contract"
	"omniacore/internal/tasktree"
	"omniacore/internal/types"
)

// echoRunner succeeds on any utterance prefixed "ok " and fails otherwise.
// "ok key=value" extracts {key: value}; a bare "ok value" uses the kind's
// first canonical key.
type echoRunner struct {
	failWith types.ErrorKind
}

func (r *echoRunner) Run(ctx context.Context, kind types.Kind, locale, text string) types.ExtractionResult {
	rest, ok := strings.CutPrefix(text, "ok ")
	if !ok {
		if r.failWith != "" {
			return types.Failure(r.failWith)
		}
		return types.Failure(types.ErrorNoMatch)
	}
	if key, value, found := strings.Cut(rest, "="); found {
		return types.Success(types.EngineRegex, map[string]string{key: value}, 0.9)
	}
	return types.Success(types.EngineRegex, map[string]string{types.CanonicalKeys(kind)[0]: rest}, 0.9)
}

func emailNode() *tasktree.Node {
	return &tasktree.Node{
		ID:       "email",
		Label:    "Email",
		Kind:     types.KindEmail,
		Required: true,
		Contract: &contract.SemanticContract{Kind: types.KindEmail},
	}
}

func nodeWithEscalations(id string, step tasktree.StepType, n int) *tasktree.Node {
	node := emailNode()
	node.ID = id
	escalations := make([]tasktree.Escalation, n)
	node.Steps = map[tasktree.StepType]*tasktree.Step{
		step: {Escalations: escalations},
	}
	return node
}

func TestMachineAtomicSuccess(t *testing.T) {
	m, err := NewMachine(emailNode(), &echoRunner{}, "it-IT")
	if err != nil {
		t.Fatal(err)
	}

	out, err := m.HandleInput(context.Background(), "ok mario@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if out != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", out)
	}
	if m.Values()["email"] != "mario@example.com" {
		t.Errorf("values = %v", m.Values())
	}
	if m.State() != tasktree.StepSuccess {
		t.Errorf("state = %s", m.State())
	}
}

func TestMachineTerminalRejectsInput(t *testing.T) {
	m, _ := NewMachine(emailNode(), &echoRunner{}, "it-IT")
	if _, err := m.HandleInput(context.Background(), "ok a@b.c"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.HandleInput(context.Background(), "ok x@y.z"); err == nil {
		t.Fatal("terminal machine accepted further input")
	}
}

func TestMachineConfirmationAccepted(t *testing.T) {
	node := emailNode()
	node.Contract.RequireConfirmation = true
	m, _ := NewMachine(node, &echoRunner{}, "it-IT")

	out, err := m.HandleInput(context.Background(), "ok a@b.c")
	if err != nil {
		t.Fatal(err)
	}
	if out != OutcomeAwaitingConfirmation {
		t.Fatalf("outcome = %s, want awaiting_confirmation", out)
	}
	if _, err := m.HandleInput(context.Background(), "ok again"); err == nil {
		t.Fatal("input accepted while awaiting confirmation")
	}

	out, err = m.Confirm(true)
	if err != nil {
		t.Fatal(err)
	}
	if out != OutcomeSuccess {
		t.Errorf("outcome after accept = %s", out)
	}
}

func TestMachineConfirmationRejectedRestartsClean(t *testing.T) {
	node := emailNode()
	node.Contract.RequireConfirmation = true
	node.Steps = map[tasktree.StepType]*tasktree.Step{
		tasktree.StepNoMatch: {Escalations: make([]tasktree.Escalation, 3)},
	}
	runner := &echoRunner{}
	m, _ := NewMachine(node, runner, "it-IT")

	// Burn one no-match escalation, then extract and reject.
	if _, err := m.HandleInput(context.Background(), "boh"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.HandleInput(context.Background(), "ok wrong@b.c"); err != nil {
		t.Fatal(err)
	}
	out, err := m.Confirm(false)
	if err != nil {
		t.Fatal(err)
	}
	if out != OutcomeInProgress {
		t.Fatalf("outcome after reject = %s", out)
	}
	if m.State() != tasktree.StepStart {
		t.Errorf("state after reject = %s, want start", m.State())
	}
	if len(m.Values()) != 0 {
		t.Errorf("tentative values survived rejection: %v", m.Values())
	}
	if m.EscalationIndex() != 0 {
		t.Errorf("escalation index not reset: %d", m.EscalationIndex())
	}

	// A fresh attempt still works end to end.
	if _, err := m.HandleInput(context.Background(), "ok right@b.c"); err != nil {
		t.Fatal(err)
	}
	out, err = m.Confirm(true)
	if err != nil || out != OutcomeSuccess {
		t.Fatalf("second pass failed: %s, %v", out, err)
	}
	if m.Values()["email"] != "right@b.c" {
		t.Errorf("values = %v", m.Values())
	}
}

func TestMachineConfirmWithoutPending(t *testing.T) {
	m, _ := NewMachine(emailNode(), &echoRunner{}, "it-IT")
	if _, err := m.Confirm(true); err == nil {
		t.Fatal("confirm accepted with nothing pending")
	}
}

func TestMachineEscalationExhaustion(t *testing.T) {
	node := nodeWithEscalations("email", tasktree.StepNoMatch, 2)
	m, _ := NewMachine(node, &echoRunner{}, "it-IT")

	out, _ := m.HandleInput(context.Background(), "boh")
	if out != OutcomeInProgress || m.State() != tasktree.StepNoMatch {
		t.Fatalf("after first miss: %s / %s", out, m.State())
	}
	out, _ = m.HandleInput(context.Background(), "ancora boh")
	if out != OutcomeInProgress {
		t.Fatalf("after second miss: %s", out)
	}
	out, _ = m.HandleInput(context.Background(), "sempre boh")
	if out != OutcomeEscalationsExhausted {
		t.Fatalf("after third miss: %s, want escalations_exhausted", out)
	}
	if !out.Terminal() {
		t.Error("exhaustion must be terminal")
	}
}

func TestMachineDefaultSingleAttempt(t *testing.T) {
	// No declared steps: one escalation per failure state.
	m, _ := NewMachine(emailNode(), &echoRunner{}, "it-IT")
	out, _ := m.HandleInput(context.Background(), "boh")
	if out != OutcomeInProgress {
		t.Fatalf("first miss should leave room for a retry, got %s", out)
	}
	out, _ = m.HandleInput(context.Background(), "boh")
	if out != OutcomeEscalationsExhausted {
		t.Fatalf("second miss should exhaust, got %s", out)
	}
}

func TestMachineNoInputVersusNoMatch(t *testing.T) {
	node := emailNode()
	node.Steps = map[tasktree.StepType]*tasktree.Step{
		tasktree.StepNoMatch: {Escalations: make([]tasktree.Escalation, 3)},
		tasktree.StepNoInput: {Escalations: make([]tasktree.Escalation, 3)},
	}
	m, _ := NewMachine(node, &echoRunner{}, "it-IT")

	if _, err := m.HandleInput(context.Background(), "   "); err != nil {
		t.Fatal(err)
	}
	if m.State() != tasktree.StepNoInput {
		t.Errorf("blank input: state = %s, want no_input", m.State())
	}
	if _, err := m.HandleInput(context.Background(), "qualcosa"); err != nil {
		t.Fatal(err)
	}
	if m.State() != tasktree.StepNoMatch {
		t.Errorf("unparseable input: state = %s, want no_match", m.State())
	}
}

func TestMachineTreatsMissingExtractorAsNoMatch(t *testing.T) {
	node := nodeWithEscalations("email", tasktree.StepNoMatch, 2)
	m, _ := NewMachine(node, &echoRunner{failWith: types.ErrorExtractorNotFound}, "it-IT")

	out, err := m.HandleInput(context.Background(), "ciao")
	if err != nil {
		t.Fatalf("missing extractor must not error the turn: %v", err)
	}
	if out != OutcomeInProgress || m.State() != tasktree.StepNoMatch {
		t.Errorf("outcome %s state %s, want in_progress/no_match", out, m.State())
	}
}

func compositeName(dayRequired bool) *tasktree.Node {
	first := &tasktree.Node{
		ID: "first", Label: "First name", Kind: types.KindName, Required: true,
		Contract: &contract.SemanticContract{Kind: types.KindName},
	}
	last := &tasktree.Node{
		ID: "last", Label: "Last name", Kind: types.KindName, Required: dayRequired,
		Contract: &contract.SemanticContract{Kind: types.KindName},
	}
	return &tasktree.Node{
		ID: "full_name", Label: "Full name", Kind: types.KindName, Required: true,
		SubTasks: []*tasktree.Node{first, last},
	}
}

func TestMachineCompositeAcquiresChildrenInOrder(t *testing.T) {
	m, err := NewMachine(compositeName(true), &echoRunner{}, "it-IT")
	if err != nil {
		t.Fatal(err)
	}
	if m.ActiveNode().ID != "first" {
		t.Fatalf("active node = %s, want first", m.ActiveNode().ID)
	}

	out, err := m.HandleInput(context.Background(), "ok first_name=Mario")
	if err != nil {
		t.Fatal(err)
	}
	if out != OutcomeInProgress {
		t.Fatalf("parent finished early: %s", out)
	}
	if m.ActiveNode().ID != "last" {
		t.Errorf("active node = %s, want last", m.ActiveNode().ID)
	}

	out, err = m.HandleInput(context.Background(), "ok last_name=Rossi")
	if err != nil {
		t.Fatal(err)
	}
	if out != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", out)
	}
	values := m.Values()
	if values["first_name"] != "Mario" || values["last_name"] != "Rossi" {
		t.Errorf("merged values = %v", values)
	}
}

func compositeDate() *tasktree.Node {
	numberNode := func(id, label string) *tasktree.Node {
		return &tasktree.Node{
			ID: id, Label: label, Kind: types.KindNumber, Required: true,
			Contract: &contract.SemanticContract{Kind: types.KindNumber},
		}
	}
	return &tasktree.Node{
		ID: "birth_date", Label: "Date of birth", Kind: types.KindDate, Required: true,
		SubTasks: []*tasktree.Node{
			numberNode("dob_day", "Day"),
			numberNode("dob_month", "Month"),
			numberNode("dob_year", "Year"),
		},
		Contract: &contract.SemanticContract{
			Kind: types.KindDate,
			SubDataMapping: map[string]contract.SubDatum{
				"dob_day":   {CanonicalKey: "day", Label: "Day", Type: "int"},
				"dob_month": {CanonicalKey: "month", Label: "Month", Type: "int"},
				"dob_year":  {CanonicalKey: "year", Label: "Year", Type: "int"},
			},
		},
	}
}

func TestMachineCompositeMapsChildValuesToCanonicalKeys(t *testing.T) {
	// Three same-kind children each extract under the kind's own key; the
	// parent's sub-data mapping must keep them from overwriting each other.
	node := compositeDate()
	if err := node.Validate(); err != nil {
		t.Fatal(err)
	}
	m, err := NewMachine(node, &echoRunner{}, "it-IT")
	if err != nil {
		t.Fatal(err)
	}

	for _, input := range []string{"ok 16", "ok 12"} {
		out, err := m.HandleInput(context.Background(), input)
		if err != nil {
			t.Fatal(err)
		}
		if out != OutcomeInProgress {
			t.Fatalf("after %q: outcome = %s", input, out)
		}
	}
	out, err := m.HandleInput(context.Background(), "ok 1961")
	if err != nil {
		t.Fatal(err)
	}
	if out != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", out)
	}

	values := m.Values()
	if values["day"] != "16" || values["month"] != "12" || values["year"] != "1961" {
		t.Errorf("merged values = %v, want day/month/year", values)
	}
	if _, leaked := values["value"]; leaked {
		t.Errorf("child value key leaked into the composite: %v", values)
	}
}

func TestMachineCompositeRequiredChildExhaustionIsTerminal(t *testing.T) {
	m, _ := NewMachine(compositeName(true), &echoRunner{}, "it-IT")

	if _, err := m.HandleInput(context.Background(), "ok Mario"); err != nil {
		t.Fatal(err)
	}
	// Exhaust the required second child (default single attempt).
	if _, err := m.HandleInput(context.Background(), "boh"); err != nil {
		t.Fatal(err)
	}
	out, err := m.HandleInput(context.Background(), "boh")
	if err != nil {
		t.Fatal(err)
	}
	if out != OutcomeEscalationsExhausted {
		t.Fatalf("outcome = %s, want escalations_exhausted", out)
	}
}

func TestMachineCompositeOptionalChildExhaustionDoesNotBlock(t *testing.T) {
	m, _ := NewMachine(compositeName(false), &echoRunner{}, "it-IT")

	if _, err := m.HandleInput(context.Background(), "ok Mario"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.HandleInput(context.Background(), "boh"); err != nil {
		t.Fatal(err)
	}
	out, err := m.HandleInput(context.Background(), "boh")
	if err != nil {
		t.Fatal(err)
	}
	if out != OutcomeSuccess {
		t.Fatalf("outcome = %s, optional child should not block success", out)
	}
}
