// Package tasktree models the data a conversation must acquire: a tree of
// task nodes, each describing one datum (atomic) or a composition of data
// (composite), plus the dialogue steps used to prompt for it.
//
// Ownership: a TaskTree is exclusively owned by one conversation. Nothing in
// this package shares mutable state across trees.
package tasktree

import (
	"fmt"

	"omniacore/internal/contract"
	"omniacore/internal/types"
)

// StepType enumerates the dialogue steps a node may own.
type StepType string

const (
	StepStart        StepType = "start"
	StepNoMatch      StepType = "no_match"
	StepNoInput      StepType = "no_input"
	StepConfirmation StepType = "confirmation"
	StepNotConfirmed StepType = "not_confirmed"
	StepSuccess      StepType = "success"
)

// PromptAction is one message emission within an escalation. Rendering is
// out of scope for this core; the runtime interprets the action.
type PromptAction struct {
	Text string `yaml:"text" json:"text"`
}

// Escalation is one retry attempt within a step, carrying increasingly
// explicit prompts as the attempt index grows.
type Escalation struct {
	Actions []PromptAction `yaml:"actions" json:"actions"`
}

// Step is an ordered list of escalations for one StepType.
type Step struct {
	Escalations []Escalation `yaml:"escalations" json:"escalations"`
}

// EscalationCount returns how many escalations the step declares. A step
// with none still allows a single attempt.
func (s *Step) EscalationCount() int {
	if s == nil || len(s.Escalations) == 0 {
		return 1
	}
	return len(s.Escalations)
}

// Node represents one datum to acquire. A node is either atomic (no
// SubTasks, extraction governed by Contract) or composite (non-empty
// SubTasks, no extraction of its own; values are assembled from children).
type Node struct {
	ID       string     `yaml:"id" json:"id"`
	Label    string     `yaml:"label" json:"label"`
	Kind     types.Kind `yaml:"kind" json:"kind"`
	Required bool       `yaml:"required" json:"required"`

	// SubTasks is the ordered list of child nodes; empty for atomic kinds.
	SubTasks []*Node `yaml:"sub_tasks,omitempty" json:"subTasks,omitempty"`

	// Steps maps each step type to at most one step.
	Steps map[StepType]*Step `yaml:"steps,omitempty" json:"steps,omitempty"`

	// Contract is the extraction leaf for atomic nodes; nil on composites.
	Contract *contract.SemanticContract `yaml:"contract,omitempty" json:"contract,omitempty"`
}

// IsComposite reports whether the node assembles its value from children.
func (n *Node) IsComposite() bool { return len(n.SubTasks) > 0 }

// Step returns the node's step for the given type, or nil.
func (n *Node) Step(t StepType) *Step {
	if n.Steps == nil {
		return nil
	}
	return n.Steps[t]
}

// Validate enforces the tree invariants:
//   - a node is atomic (no sub-tasks, contract present) or composite
//     (sub-tasks present, no own contract), never both;
//   - node ids are unique within the tree;
//   - a composite node's contract-side sub-data mapping, when its children
//     carry one, covers every child id exactly once;
//   - kinds are members of the closed set.
func (n *Node) Validate() error {
	seen := make(map[string]bool)
	return n.validate(seen)
}

func (n *Node) validate(seen map[string]bool) error {
	if n.ID == "" {
		return fmt.Errorf("node %q: empty id", n.Label)
	}
	if seen[n.ID] {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	seen[n.ID] = true

	if !n.Kind.IsValid() {
		return fmt.Errorf("node %q: unknown kind %q", n.ID, n.Kind)
	}

	if n.IsComposite() {
		if n.Contract != nil && len(n.Contract.SubDataMapping) > 0 {
			// The composite's contract maps child ids to canonical slots;
			// every child must have exactly one entry.
			for _, child := range n.SubTasks {
				if _, ok := n.Contract.CanonicalKeyFor(child.ID); !ok {
					return fmt.Errorf("node %q: sub-task %q has no canonical mapping", n.ID, child.ID)
				}
			}
			if err := n.Contract.Validate(); err != nil {
				return fmt.Errorf("node %q: %w", n.ID, err)
			}
		}
		for _, child := range n.SubTasks {
			if err := child.validate(seen); err != nil {
				return err
			}
		}
		return nil
	}

	if n.Contract == nil {
		return fmt.Errorf("node %q: atomic node without extraction contract", n.ID)
	}
	if err := n.Contract.Validate(); err != nil {
		return fmt.Errorf("node %q: %w", n.ID, err)
	}
	return nil
}

// Walk visits the node and all descendants depth-first, stopping on the
// first error from fn.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, child := range n.SubTasks {
		if err := child.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}
