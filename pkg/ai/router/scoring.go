package router

import (
	"sort"

	aimodel "github.com/workflowdev/workflowd/pkg/ai/model"
)

// candidate pairs a model descriptor with its owning provider's current
// priority, used for tie-breaking.
type candidate struct {
	model aimodel.ModelDescriptor
	providerPriority int
}

// qualityScore converts a 1-is-best quality_rank into a 0..1 score where
// rank 1 scores highest. worstRank bounds the normalization so a single
// very-low-quality model doesn't compress the rest of the scale.
func qualityScore(rank, worstRank int) float64 {
	if worstRank < 1 {
		worstRank = 1
	}
	if rank < 1 {
		rank = 1
	}
	if rank > worstRank {
		rank = worstRank
	}
	if worstRank == 1 {
		return 1.0
	}
	return 1.0 - float64(rank-1)/float64(worstRank-1)
}

// costEfficiency scores a model inversely to its blended per-unit cost
// relative to the most expensive candidate in the pool.
func costEfficiency(m aimodel.ModelDescriptor, maxCost float64) float64 {
	if maxCost <= 0 {
		return 1
	}
	blended := m.CostPerInputUnit + m.CostPerOutputUnit
	return 1.0 - (blended / maxCost)
}

func capabilityMatch(m aimodel.ModelDescriptor, task aimodel.TaskType) float64 {
	want := capabilityForTask(task)
	if m.HasCapability(want) {
		return 1
	}
	return 0.5
}

func capabilityForTask(task aimodel.TaskType) aimodel.Capability {
	switch task {
	case aimodel.TaskAnalyze, aimodel.TaskClassify, aimodel.TaskExtract:
		return aimodel.CapabilityAnalysis
	case aimodel.TaskSuggest:
		return aimodel.CapabilityReasoning
	case aimodel.TaskGenerate, aimodel.TaskTranslate:
		return aimodel.CapabilityCreative
	default:
		return aimodel.CapabilityFast
	}
}

func latencyClassBonus(class aimodel.LatencyClass) float64 {
	switch class {
	case aimodel.LatencyFast:
		return 0.5
	case aimodel.LatencyStandard:
		return 0.3
	default:
		return 0.1
	}
}

// score computes a candidate's strategy-weighted score.
func score(strategy aimodel.Strategy, c candidate, task aimodel.TaskType, worstRank int, maxCost float64) float64 {
	q := qualityScore(c.model.QualityRank, worstRank)
	ce := costEfficiency(c.model, maxCost)
	cap := capabilityMatch(c.model, task)

	switch strategy {
	case aimodel.StrategyCost:
		return 0.8*ce + 0.2*q
	case aimodel.StrategySpeed:
		return latencyClassBonus(c.model.ExpectedLatencyClass) + 0.3*q + 0.2*ce
	case aimodel.StrategyBalanced:
		return 0.4*q + 0.4*ce + 0.2*cap
	case aimodel.StrategyPerformance:
		fallthrough
	default:
		return 0.7*q + 0.3*cap
	}
}

// rank orders candidates by strategy score (descending), then by the
// the tie-break order: provider priority ascending, model
// quality_rank ascending, model_id lexicographic. preferProvider, if set,
// promotes its first passing candidate ahead of every tie (step 5).
func rank(strategy aimodel.Strategy, cands []candidate, task aimodel.TaskType, preferProvider string) []candidate {
	worstRank := 1
	maxCost := 0.0
	for _, c := range cands {
		if c.model.QualityRank > worstRank {
			worstRank = c.model.QualityRank
		}
		if blended := c.model.CostPerInputUnit + c.model.CostPerOutputUnit; blended > maxCost {
			maxCost = blended
		}
	}

	type scored struct {
		candidate
		score float64
	}
	out := make([]scored, len(cands))
	for i, c := range cands {
		out[i] = scored{candidate: c, score: score(strategy, c, task, worstRank, maxCost)}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].providerPriority != out[j].providerPriority {
			return out[i].providerPriority < out[j].providerPriority
		}
		if out[i].model.QualityRank != out[j].model.QualityRank {
			return out[i].model.QualityRank < out[j].model.QualityRank
		}
		return out[i].model.ModelID < out[j].model.ModelID
	})

	if preferProvider != "" {
		for i, c := range out {
			if c.model.ProviderID == preferProvider && c.score == out[0].score {
				promoted := out[i]
				rest := append(out[:i:i], out[i+1:]...)
				out = append([]scored{promoted}, rest...)
				break
			}
		}
	}

	result := make([]candidate, len(out))
	for i, s := range out {
		result[i] = s.candidate
	}
	return result
}
