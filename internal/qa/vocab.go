package qa

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Vocabulary holds the recognized codes for study and agent fields.
type Vocabulary struct {
	Designs         []string            `yaml:"designs"`
	OutcomeTypes    []string            `yaml:"outcome_types"`
	EducationLevels []string            `yaml:"education_levels"`
	AgentCodes      map[string][]string `yaml:"agent_codes"`
}

// DefaultVocabulary returns the built-in coding scheme.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Designs: []string{
			"randomized_controlled_trial", "rct", "quasi_experimental", "pre_post", "pretest_posttest",
		},
		OutcomeTypes: []string{
			"learning_outcome", "achievement", "performance", "test_score",
			"knowledge", "skill", "competency", "grade",
		},
		EducationLevels: []string{"k12", "higher_education", "adult", "professional", "mixed"},
		AgentCodes: map[string][]string{
			"oversight_level": {"fully_autonomous", "ai_led_with_checkpoints", "human_led_with_ai_support"},
			"architecture":    {"single_agent", "multi_agent"},
			"agency_level":    {"adaptive", "proactive", "co_learner", "peer"},
			"agent_role":      {"tutor", "coach", "assessor", "collaborator", "facilitator"},
			"modality":        {"text_only", "voice", "embodied", "mixed"},
			"technology":      {"rule_based", "ml", "nlp", "llm", "rl"},
			"adaptivity":      {"static", "adaptive_performance", "adaptive_behavior_affect"},
		},
	}
}

// LoadVocabulary reads a YAML override file. Lists present in the file
// replace the defaults; absent lists keep them. An empty path returns the
// defaults.
func LoadVocabulary(path string) (Vocabulary, error) {
	v := DefaultVocabulary()
	if path == "" {
		return v, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return v, eris.Wrapf(err, "qa: read vocabulary %s", path)
	}

	var wrapper struct {
		Vocabulary Vocabulary `yaml:"vocabulary"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return v, eris.Wrap(err, "qa: parse vocabulary")
	}

	o := wrapper.Vocabulary
	if len(o.Designs) > 0 {
		v.Designs = o.Designs
	}
	if len(o.OutcomeTypes) > 0 {
		v.OutcomeTypes = o.OutcomeTypes
	}
	if len(o.EducationLevels) > 0 {
		v.EducationLevels = o.EducationLevels
	}
	for field, codes := range o.AgentCodes {
		v.AgentCodes[field] = codes
	}
	return v, nil
}

// Set is a case-insensitive membership set.
type Set struct {
	items  map[string]bool
	sorted []string
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// NewSet builds a Set from values.
func NewSet(values []string) Set {
	s := Set{items: make(map[string]bool, len(values))}
	for _, v := range values {
		k := fold(v)
		if !s.items[k] {
			s.items[k] = true
			s.sorted = append(s.sorted, k)
		}
	}
	sort.Strings(s.sorted)
	return s
}

// Contains reports whether v is in the set, ignoring case and surrounding
// whitespace.
func (s Set) Contains(v string) bool {
	return s.items[fold(v)]
}

// Values returns the folded members in sorted order.
func (s Set) Values() []string {
	return append([]string(nil), s.sorted...)
}
