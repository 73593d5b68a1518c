package engine

import (
	"strings"

	"github.com/alertscope/alertscope/internal/models"
	"github.com/alertscope/alertscope/internal/utils"
)

const (
	maxKeywords   = 10
	maxSummaryLen = 100
)

var stopwords = map[string]struct{}{
	"a": {}, "the": {}, "is": {}, "at": {}, "for": {}, "to": {}, "and": {}, "or": {},
}

// typeSignals maps trigger substrings onto alert types. Order matters;
// the first family with a hit wins.
var typeSignals = []struct {
	alertType string
	triggers  []string
}{
	{models.AlertTypePerformance, []string{"cpu", "memory", "disk", "load"}},
	{models.AlertTypeError, []string{"error", "exception", "fail"}},
	{models.AlertTypeAvailability, []string{"down", "unreachable", "timeout"}},
	{models.AlertTypeNetwork, []string{"network", "connection"}},
}

var suggestedMetrics = map[string][]string{
	models.AlertTypePerformance:  {"cpu_usage", "memory_usage", "disk_usage"},
	models.AlertTypeAvailability: {"up", "response_time", "error_rate"},
	models.AlertTypeNetwork:      {"network_in", "network_out", "connection_count"},
}

// ExtractIntent derives a structured reading of the alert text. It is
// deterministic and needs no external service, so the first pipeline
// stage cannot fail.
func ExtractIntent(alert string) models.Intent {
	lowered := strings.ToLower(alert)
	normalized := strings.NewReplacer(",", " ", ".", " ").Replace(lowered)
	tokens := strings.Fields(normalized)

	intent := models.Intent{
		Summary:   utils.Truncate(strings.TrimSpace(alert), maxSummaryLen),
		AlertType: classify(lowered),
	}

	for _, tok := range tokens {
		if len(intent.Keywords) >= maxKeywords {
			break
		}
		if len(tok) <= 1 {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		intent.Keywords = append(intent.Keywords, tok)
	}

	for _, tok := range tokens {
		if strings.HasSuffix(tok, "-service") {
			intent.AffectedSystem = tok
			break
		}
	}

	intent.SuggestedMetrics = suggestedMetrics[intent.AlertType]
	return intent
}

func classify(lowered string) string {
	for _, family := range typeSignals {
		for _, trigger := range family.triggers {
			if strings.Contains(lowered, trigger) {
				return family.alertType
			}
		}
	}
	return models.AlertTypeGeneral
}
