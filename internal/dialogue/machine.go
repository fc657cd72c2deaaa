// Package dialogue implements the per-field conversational state machine.
// Each task-tree node gets one Machine that manages prompting, retries and
// confirmation; composite nodes supervise one sub-machine per sub-task.
//
// States are the dialogue step types. Transitions:
//
//	Start        --extraction fails--> NoMatch | NoInput
//	NoMatch/NoInput --further failures--> same state, next escalation index
//	Start/NoMatch/NoInput --success, confirmation required--> Confirmation
//	Start/NoMatch/NoInput --success, no confirmation--> Success
//	Confirmation --confirmed--> Success
//	Confirmation --rejected--> NotConfirmed --> Start (escalations reset)
//
// Success and exhausted escalations are terminal. Exhaustion is reported
// upward as a structured outcome, never a panic or an unbounded loop.
package dialogue

import (
	"context"
	"fmt"
	"strings"

	"omniacore/internal/logging"
	"omniacore/internal/tasktree"
	"omniacore/internal/types"
)

// Runner is the extraction surface the state machine calls when a step
// needs to interpret new user input. Satisfied by extract.Orchestrator.
type Runner interface {
	Run(ctx context.Context, kind types.Kind, locale, text string) types.ExtractionResult
}

// Outcome is the machine's progress report after a turn.
type Outcome string

const (
	// OutcomeInProgress means the machine expects further input.
	OutcomeInProgress Outcome = "in_progress"
	// OutcomeAwaitingConfirmation means the runtime must ask the user to
	// confirm the extracted values, then call Confirm.
	OutcomeAwaitingConfirmation Outcome = "awaiting_confirmation"
	// OutcomeSuccess is terminal: the datum (and, for composites, every
	// required sub-datum) was acquired.
	OutcomeSuccess Outcome = "success"
	// OutcomeEscalationsExhausted is terminal failure: all declared
	// escalations failed. The surrounding conversation logic decides what
	// happens next (skip field, abort, hand off to a human).
	OutcomeEscalationsExhausted Outcome = "escalations_exhausted"
)

// Terminal reports whether the outcome ends the node's acquisition.
func (o Outcome) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomeEscalationsExhausted
}

// Machine is the dialogue state machine for one task-tree node. A Machine
// is exclusively owned by one conversation and is not safe for concurrent
// use; independent conversations run independent machines.
type Machine struct {
	node   *tasktree.Node
	runner Runner
	locale string

	state       tasktree.StepType
	escalations map[tasktree.StepType]int
	values      map[string]string
	outcome     Outcome

	// Composite supervision.
	children []*Machine
	current  int
}

// NewMachine builds a machine for the node, recursively creating
// sub-machines for composite nodes.
func NewMachine(node *tasktree.Node, runner Runner, locale string) (*Machine, error) {
	if node == nil {
		return nil, fmt.Errorf("nil task node")
	}
	m := &Machine{
		node:        node,
		runner:      runner,
		locale:      locale,
		state:       tasktree.StepStart,
		escalations: make(map[tasktree.StepType]int),
		values:      make(map[string]string),
		outcome:     OutcomeInProgress,
	}
	for _, child := range node.SubTasks {
		cm, err := NewMachine(child, runner, locale)
		if err != nil {
			return nil, err
		}
		m.children = append(m.children, cm)
	}
	return m, nil
}

// Node returns the machine's task node.
func (m *Machine) Node() *tasktree.Node { return m.node }

// State returns the current dialogue step type.
func (m *Machine) State() tasktree.StepType { return m.state }

// Outcome returns the machine's current outcome.
func (m *Machine) Outcome() Outcome { return m.outcome }

// EscalationIndex returns the escalation index for the current state, used
// by the runtime to select an increasingly explicit prompt.
func (m *Machine) EscalationIndex() int { return m.escalations[m.state] }

// Values returns the canonical values acquired so far. For composite nodes
// the children's values are merged in sub-task order; a child whose single
// value has a canonical slot in the parent contract's sub-data mapping lands
// under that slot's key, so same-kind children never collide.
func (m *Machine) Values() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	for _, child := range m.children {
		if child.outcome != OutcomeSuccess {
			continue
		}
		childValues := child.Values()
		if key, ok := m.childSlot(child); ok && len(childValues) == 1 {
			for _, v := range childValues {
				out[key] = v
			}
			continue
		}
		for k, v := range childValues {
			out[k] = v
		}
	}
	return out
}

// childSlot returns the canonical key the parent contract assigns to the
// child's sub-task id.
func (m *Machine) childSlot(child *Machine) (string, bool) {
	if m.node.Contract == nil {
		return "", false
	}
	return m.node.Contract.CanonicalKeyFor(child.node.ID)
}

// ActiveNode returns the node whose prompt should be played next: the
// machine's own node for atomics, the active child's for composites.
func (m *Machine) ActiveNode() *tasktree.Node {
	if child := m.activeChild(); child != nil {
		return child.ActiveNode()
	}
	return m.node
}

// HandleInput processes one conversation turn. For composites the input is
// routed to the active sub-machine; for atomics it is extracted against the
// node's contract.
func (m *Machine) HandleInput(ctx context.Context, utterance string) (Outcome, error) {
	if m.outcome.Terminal() {
		return m.outcome, fmt.Errorf("node %s: machine is terminal (%s): %w", m.node.ID, m.outcome, types.ErrEscalationsExhausted)
	}

	if m.node.IsComposite() {
		return m.handleCompositeInput(ctx, utterance)
	}
	return m.handleAtomicInput(ctx, utterance)
}

func (m *Machine) handleAtomicInput(ctx context.Context, utterance string) (Outcome, error) {
	if m.state == tasktree.StepConfirmation {
		return m.outcome, fmt.Errorf("node %s: awaiting confirmation, call Confirm", m.node.ID)
	}
	// A rejected confirmation restarted acquisition; the machine already
	// sits in Start here.

	empty := strings.TrimSpace(utterance) == ""
	var result types.ExtractionResult
	if empty {
		result = types.Failure(types.ErrorNoMatch)
	} else {
		result = m.runner.Run(ctx, m.node.Kind, m.locale, utterance)
	}

	if result.OK {
		for k, v := range result.Fields {
			m.values[k] = v
		}
		if m.requiresConfirmation() {
			m.transition(tasktree.StepConfirmation)
			m.outcome = OutcomeAwaitingConfirmation
			return m.outcome, nil
		}
		m.transition(tasktree.StepSuccess)
		m.outcome = OutcomeSuccess
		return m.outcome, nil
	}

	// NoInput when the utterance was empty or pure silence; NoMatch
	// otherwise (including ExtractorNotFound, which the caller treats as
	// "no extraction available", not a crash).
	target := tasktree.StepNoMatch
	if empty {
		target = tasktree.StepNoInput
	}
	return m.fail(target), nil
}

func (m *Machine) fail(target tasktree.StepType) Outcome {
	if m.state == target {
		m.escalations[target]++
	} else {
		m.state = target
	}
	step := m.node.Step(target)
	if m.escalations[target] >= step.EscalationCount() {
		m.outcome = OutcomeEscalationsExhausted
		logging.Dialogue("node %s: escalations exhausted in %s", m.node.ID, target)
		return m.outcome
	}
	logging.DialogueDebug("node %s: %s escalation %d", m.node.ID, target, m.escalations[target])
	m.outcome = OutcomeInProgress
	return m.outcome
}

// Confirm resolves a pending Confirmation step. Rejection passes through
// NotConfirmed and restarts acquisition from Start with every escalation
// index reset to zero and the tentative values discarded.
func (m *Machine) Confirm(accepted bool) (Outcome, error) {
	if m.node.IsComposite() {
		if child := m.activeChild(); child != nil {
			if _, err := child.Confirm(accepted); err != nil {
				return m.outcome, err
			}
			return m.superviseChildren()
		}
		return m.outcome, fmt.Errorf("node %s: no pending confirmation", m.node.ID)
	}

	if m.state != tasktree.StepConfirmation {
		return m.outcome, fmt.Errorf("node %s: no pending confirmation in state %s", m.node.ID, m.state)
	}
	if accepted {
		m.transition(tasktree.StepSuccess)
		m.outcome = OutcomeSuccess
		return m.outcome, nil
	}

	m.transition(tasktree.StepNotConfirmed)
	m.values = make(map[string]string)
	m.escalations = make(map[tasktree.StepType]int)
	m.transition(tasktree.StepStart)
	m.outcome = OutcomeInProgress
	return m.outcome, nil
}

func (m *Machine) transition(to tasktree.StepType) {
	logging.DialogueDebug("node %s: %s -> %s", m.node.ID, m.state, to)
	m.state = to
}

func (m *Machine) requiresConfirmation() bool {
	if m.node.Contract != nil && m.node.Contract.RequireConfirmation {
		return true
	}
	// A declared Confirmation step also opts the node in.
	return m.node.Step(tasktree.StepConfirmation) != nil
}

// =============================================================================
// COMPOSITE SUPERVISION
// =============================================================================

func (m *Machine) activeChild() *Machine {
	for i := m.current; i < len(m.children); i++ {
		if !m.children[i].outcome.Terminal() {
			m.current = i
			return m.children[i]
		}
	}
	return nil
}

func (m *Machine) handleCompositeInput(ctx context.Context, utterance string) (Outcome, error) {
	child := m.activeChild()
	if child == nil {
		return m.superviseChildren()
	}
	if _, err := child.HandleInput(ctx, utterance); err != nil {
		return m.outcome, err
	}
	return m.superviseChildren()
}

// superviseChildren folds the children's outcomes into the parent's. The
// parent is Success only once every required sub-task reached Success;
// optional sub-tasks that exhausted their escalations do not block it. A
// required sub-task exhausting its escalations is terminal for the parent.
func (m *Machine) superviseChildren() (Outcome, error) {
	for _, child := range m.children {
		switch {
		case child.outcome == OutcomeAwaitingConfirmation:
			m.outcome = OutcomeAwaitingConfirmation
			return m.outcome, nil
		case !child.outcome.Terminal():
			m.outcome = OutcomeInProgress
			return m.outcome, nil
		case child.outcome == OutcomeEscalationsExhausted && child.node.Required:
			m.outcome = OutcomeEscalationsExhausted
			m.transition(tasktree.StepNoMatch)
			return m.outcome, nil
		}
	}
	m.transition(tasktree.StepSuccess)
	m.outcome = OutcomeSuccess
	return m.outcome, nil
}
