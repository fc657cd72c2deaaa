package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"omniacore/internal/contract"
	"omniacore/internal/logging"
	"omniacore/internal/provider"
	"omniacore/internal/types"
)

// LLMEngine is the last resort: it builds a structured prompt from the
// contract and the utterance, and parses a JSON reply matching the expected
// canonical keys. Malformed replies are a normal, expected failure mode and
// yield OK=false, never a crash.
type LLMEngine struct {
	client provider.LLMClient
}

// NewLLMEngine creates an LLM engine over the given chat client.
func NewLLMEngine(client provider.LLMClient) *LLMEngine {
	return &LLMEngine{client: client}
}

// Kind returns EngineLLM.
func (e *LLMEngine) Kind() types.EngineKind { return types.EngineLLM }

// Extract prompts the model and validates the JSON reply against the
// contract's expected keys.
func (e *LLMEngine) Extract(ctx context.Context, text string, c *contract.SemanticContract) types.ExtractionResult {
	if e.client == nil || c == nil {
		return types.Failure(types.ErrorNoMatch)
	}

	system := c.LLMSystemPrompt
	if system == "" {
		system = synthesizeSystemPrompt(c)
	}
	user := fmt.Sprintf("Utterance: %q\nReply with the JSON object only.", text)

	reply, err := e.client.CompleteWithSystem(ctx, system, user)
	if err != nil {
		logging.ExtractDebug("llm engine failed: %v", err)
		return types.Failure(types.KindOf(err))
	}

	fields, err := parseFieldReply(reply, c)
	if err != nil {
		logging.ExtractDebug("llm reply rejected: %v", err)
		return types.Failure(types.ErrorSchemaInvalid)
	}
	if len(fields) == 0 {
		return types.Failure(types.ErrorNoMatch)
	}
	return types.Success(types.EngineLLM, fields, ConfidenceLLM)
}

// synthesizeSystemPrompt builds an extraction instruction from the contract
// shape when the contract carries no hand-written prompt.
func synthesizeSystemPrompt(c *contract.SemanticContract) string {
	keys := c.ExpectedKeys()
	var b strings.Builder
	fmt.Fprintf(&b, "You extract a %s from a user utterance.\n", c.Kind)
	b.WriteString("Return a single JSON object with exactly these keys, omitting any you cannot determine:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  %q: string\n", k)
	}
	b.WriteString("Values must be verbatim or minimally normalized from the utterance. Never guess. No prose, no markdown.")
	return b.String()
}

// parseFieldReply decodes the model reply into a canonical field map.
// Unknown keys, non-string values that are not scalars, and non-object
// replies all count as schema violations.
func parseFieldReply(reply string, c *contract.SemanticContract) (map[string]string, error) {
	payload := stripFences(reply)

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("reply is not a JSON object: %v: %w", err, types.ErrSchemaInvalid)
	}

	expected := make(map[string]bool)
	for _, k := range c.ExpectedKeys() {
		expected[k] = true
	}

	fields := make(map[string]string)
	for k, v := range raw {
		if !expected[k] {
			return nil, fmt.Errorf("unexpected key %q in reply: %w", k, types.ErrSchemaInvalid)
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case float64:
			// JSON numbers arrive as float64; integers render without the
			// fractional part.
			if val == float64(int64(val)) {
				s = fmt.Sprintf("%d", int64(val))
			} else {
				s = fmt.Sprintf("%g", val)
			}
		case nil:
			continue
		default:
			return nil, fmt.Errorf("key %q has non-scalar value: %w", k, types.ErrSchemaInvalid)
		}
		if s == "" {
			continue
		}
		fields[k] = coerceNumeric(c.Kind, k, s)
	}
	return fields, nil
}

// stripFences removes a markdown code fence around a JSON payload, plus any
// prose before the first brace. Models add both despite instructions.
func stripFences(reply string) string {
	s := strings.TrimSpace(reply)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j >= 0 {
		s = s[:j+1]
	}
	return strings.TrimSpace(s)
}
