package impl

import (
	"regexp"
	"sort"

	"github.com/docstack-rag/models"
)

// InjectionAssessment is the ingest-time verdict for one chunk. Only
// labels and the score are persisted; raw matched text never leaves the
// scorer.
type InjectionAssessment struct {
	RiskScore        float64
	SecurityFlags    []string
	DetectedPatterns []string
}

type injectionPattern struct {
	label  string
	flag   string
	weight float64
	re     *regexp.Regexp
}

// Compiled once at package init; the detector runs per-chunk during
// ingestion, so repeated compilation would dominate the pass.
var injectionPatterns = []injectionPattern{
	{
		label:  "override_instruction",
		flag:   "override_instruction",
		weight: 0.7,
		re:     regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|context)|ignora\s+(todas?\s+)?(las\s+)?instrucciones\s+(anteriores|previas)`),
	},
	{
		label:  "role_takeover",
		flag:   "role_takeover",
		weight: 0.6,
		re:     regexp.MustCompile(`(?i)(you\s+are\s+now|act\s+as|pretend\s+to\s+be|from\s+now\s+on\s+you)\s+(a|an|the)?\s*\w+|new\s+system\s+prompt|developer\s+message|ahora\s+eres|act[uú]a\s+como`),
	},
	{
		label:  "exfiltration_command",
		flag:   "exfiltration_command",
		weight: 0.7,
		re:     regexp.MustCompile(`(?i)(reveal|print|show|send|leak|exfiltrate)\s+(your\s+|the\s+)?(system\s+prompt|instructions|secrets?|api\s+keys?|credentials?|passwords?)|revela\s+(el\s+)?prompt`),
	},
	{
		label:  "hidden_comment_block",
		flag:   "hidden_comment_block",
		weight: 0.4,
		re:     regexp.MustCompile(`<!--[\s\S]*?-->|\[//\]:\s*#|\[comment\]:\s*<>`),
	},
	{
		label:  "encoded_content",
		flag:   "encoded_content",
		weight: 0.3,
		re:     regexp.MustCompile(`(?i)base64[:\s,]|(?:[A-Za-z0-9+/]{40,}={0,2})(?:\s|$)|\\x[0-9a-f]{2}\\x[0-9a-f]{2}`),
	},
	{
		label:  "tool_call_attempt",
		flag:   "tool_call_attempt",
		weight: 0.5,
		re:     regexp.MustCompile(`(?i)(call|invoke|execute|run)\s+(this\s+|the\s+)?(tool|command|function|script)|ejecuta\s+(este\s+)?comando`),
	},
	{
		label:  "instruction_like",
		flag:   "instruction_like",
		weight: 0.2,
		re:     regexp.MustCompile(`(?i)you\s+must\s+(always|never|now)|es\s+obligatorio\s+que|debes\s+(siempre|ahora)`),
	},
}

// InjectionDetector scores chunks for prompt-injection signals at ingest.
type InjectionDetector struct{}

func NewInjectionDetector() *InjectionDetector {
	return &InjectionDetector{}
}

// Assess returns the risk score in [0,1] plus the matched pattern labels.
func (d *InjectionDetector) Assess(content string) InjectionAssessment {
	var assessment InjectionAssessment
	seen := make(map[string]struct{})

	for _, p := range injectionPatterns {
		if !p.re.MatchString(content) {
			continue
		}
		if _, dup := seen[p.label]; dup {
			continue
		}
		seen[p.label] = struct{}{}
		assessment.DetectedPatterns = append(assessment.DetectedPatterns, p.label)
		assessment.SecurityFlags = append(assessment.SecurityFlags, p.flag)
		assessment.RiskScore += p.weight
	}

	if assessment.RiskScore > 1.0 {
		assessment.RiskScore = 1.0
	}
	sort.Strings(assessment.DetectedPatterns)
	sort.Strings(assessment.SecurityFlags)
	return assessment
}

// InjectionFilter applies the per-workspace filter mode to retrieval
// candidates.
type InjectionFilter struct {
	Mode             models.FilterMode
	ExcludeThreshold float64
	DownrankPenalty  float64
}

// Apply filters or downranks flagged chunks. Downrank subtracts a fixed
// penalty from the fused score of any flagged chunk but preserves the
// incoming order; exclude drops chunks whose risk exceeds the threshold.
func (f *InjectionFilter) Apply(chunks []models.RetrievedChunk) []models.RetrievedChunk {
	switch f.Mode {
	case models.FilterModeOff:
		return chunks
	case models.FilterModeExclude:
		kept := make([]models.RetrievedChunk, 0, len(chunks))
		for _, c := range chunks {
			if len(c.SecurityFlags) > 0 && c.RiskScore > f.ExcludeThreshold {
				continue
			}
			kept = append(kept, c)
		}
		return kept
	default: // downrank
		out := make([]models.RetrievedChunk, len(chunks))
		copy(out, chunks)
		for i := range out {
			if len(out[i].SecurityFlags) > 0 {
				out[i].Score -= f.DownrankPenalty
			}
		}
		return out
	}
}
