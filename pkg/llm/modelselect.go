package llm

import "strings"

// sizeKeywords maps a parameter-count keyword found in a model name to a
// relative size score (smaller is smaller), ported from original_source's
// Chat2Chat/chat_between_ais.py score_model.
var sizeKeywords = []struct {
	keyword string
	score   int
}{
	{"0.6b", 0}, {"1b", 1}, {"2b", 2}, {"3b", 3}, {"7b", 4},
	{"13b", 5}, {"14b", 6}, {"30b", 7}, {"70b", 8}, {"120b", 9},
}

// visionPrefixes and largePrefixes adjust the score by model family,
// whether or not a parameter-count keyword matched: a vision/llava/qwen
// name scores at most 5 and a gpt/deepseek name at least 10, matching
// score_model's special cases.
var visionPrefixes = []string{"vision", "llava", "qwen"}
var largePrefixes = []string{"gpt", "deepseek"}

func scoreModel(model string) int {
	lower := strings.ToLower(model)
	score := 100

	for _, sk := range sizeKeywords {
		// A keyword preceded by a digit is part of a larger count ("3b" in
		// "13b") and does not match.
		if i := strings.Index(lower, sk.keyword); i >= 0 && (i == 0 || lower[i-1] < '0' || lower[i-1] > '9') {
			score = sk.score
			break
		}
	}

	for _, p := range visionPrefixes {
		if strings.Contains(lower, p) {
			if score > 5 {
				score = 5
			}
			break
		}
	}

	for _, p := range largePrefixes {
		if strings.Contains(lower, p) {
			if score < 10 {
				score = 10
			}
			break
		}
	}

	return score
}

// SelectBySize picks the smallest model among models by parameter-count
// keyword heuristic (SPEC_FULL.md SUPPLEMENTED FEATURES #1).
// cmd/orchestrator calls it for the local and local-cloud tags when a
// command's model flag is left empty. Returns "" for an empty list.
func SelectBySize(models []string) string {
	if len(models) == 0 {
		return ""
	}
	best := models[0]
	bestScore := scoreModel(best)
	for _, m := range models[1:] {
		if s := scoreModel(m); s < bestScore {
			bestScore = s
			best = m
		}
	}
	return best
}
