package extract

import (
	"context"

	"omniacore/internal/contract"
	"omniacore/internal/logging"
	"omniacore/internal/provider"
	"omniacore/internal/types"
)

// NEREngine delegates to the external model service and maps returned
// entity spans to canonical keys by entity-type name. Confidence is copied
// from the model's score but capped so the NER engine never outranks the
// deterministic engines when both agree.
type NEREngine struct {
	client provider.NERClient
}

// NewNEREngine creates an NER engine over the given model client.
func NewNEREngine(client provider.NERClient) *NEREngine {
	return &NEREngine{client: client}
}

// Kind returns EngineNER.
func (e *NEREngine) Kind() types.EngineKind { return types.EngineNER }

// Extract calls the model service and keeps, per canonical key, the
// highest-scoring entity of a mapped type.
func (e *NEREngine) Extract(ctx context.Context, text string, c *contract.SemanticContract) types.ExtractionResult {
	if e.client == nil || c == nil || len(c.EntityTypes) == 0 {
		return types.Failure(types.ErrorNoMatch)
	}

	entities, err := e.client.Entities(ctx, text)
	if err != nil {
		logging.ExtractDebug("ner engine unavailable: %v", err)
		return types.Failure(types.KindOf(err))
	}

	fields := make(map[string]string)
	best := make(map[string]float64)
	top := 0.0
	for _, ent := range entities {
		key, ok := c.EntityTypes[ent.Type]
		if !ok || ent.Text == "" {
			continue
		}
		if prev, seen := best[key]; seen && prev >= ent.Score {
			continue
		}
		best[key] = ent.Score
		fields[key] = coerceNumeric(c.Kind, key, ent.Text)
		if ent.Score > top {
			top = ent.Score
		}
	}
	if len(fields) == 0 {
		return types.Failure(types.ErrorNoMatch)
	}
	if top > NERConfidenceCap {
		top = NERConfidenceCap
	}
	return types.Success(types.EngineNER, fields, top)
}
