package delegate

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/alderai/triad/pkg/models"
)

// Default phrase patterns mapping delegate output to decisions. The word
// lists mirror the vocabularies the delegate CLIs actually emit.
var (
	approveRe = regexp.MustCompile(`(?i)\b(APPROVE|APPROVED|LGTM|ACCEPT|ACCEPTED|YES)\b`)
	rejectRe  = regexp.MustCompile(`(?i)\b(REJECT|REJECTED|DENY|DENIED|NO|BLOCK|BLOCKED)\b`)
	abstainRe = regexp.MustCompile(`(?i)\b(ABSTAIN|UNSURE|UNCLEAR|CANNOT DETERMINE|NEED MORE)\b`)
)

// PatternSet is an ordered extension to the built-in decision vocabulary,
// loaded from a YAML pattern library file.
type PatternSet struct {
	// Approve, Reject, and Abstain hold additional regular expressions for
	// each decision class.
	Approve []string `yaml:"approve"`
	Reject  []string `yaml:"reject"`
	Abstain []string `yaml:"abstain"`
}

// DecisionParser extracts a tagged decision from free-form delegate output.
// Unmatched text falls back to Abstain and is reported through the Unmatched
// callback so the pattern library can be extended later.
type DecisionParser struct {
	extraApprove []*regexp.Regexp
	extraReject  []*regexp.Regexp
	extraAbstain []*regexp.Regexp

	// Unmatched, if set, is called with output that matched no pattern.
	Unmatched func(text string)
}

// NewDecisionParser creates a parser with the built-in vocabulary only.
func NewDecisionParser() *DecisionParser {
	return &DecisionParser{}
}

// NewDecisionParserFromFile creates a parser extended with patterns from a
// YAML pattern library file. A missing file yields the built-in parser.
func NewDecisionParserFromFile(path string) (*DecisionParser, error) {
	p := NewDecisionParser()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("read pattern library: %w", err)
	}

	var set PatternSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse pattern library %s: %w", path, err)
	}

	if err := p.Extend(&set); err != nil {
		return nil, err
	}
	return p, nil
}

// Extend compiles and adds the given pattern set to the parser.
func (p *DecisionParser) Extend(set *PatternSet) error {
	compile := func(patterns []string, dst *[]*regexp.Regexp) error {
		for _, pat := range patterns {
			re, err := regexp.Compile(`(?i)` + pat)
			if err != nil {
				return fmt.Errorf("compile pattern %q: %w", pat, err)
			}
			*dst = append(*dst, re)
		}
		return nil
	}
	if err := compile(set.Approve, &p.extraApprove); err != nil {
		return err
	}
	if err := compile(set.Reject, &p.extraReject); err != nil {
		return err
	}
	return compile(set.Abstain, &p.extraAbstain)
}

// Parse extracts a decision from delegate output. Approve patterns are
// checked before reject so "APPROVE - do NOT merge yet" still approves,
// matching the precedence the delegates were tested against. Output with no
// recognized phrase abstains.
func (p *DecisionParser) Parse(text string) models.Decision {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.DecisionAbstain
	}

	if approveRe.MatchString(trimmed) || anyMatch(p.extraApprove, trimmed) {
		return models.DecisionApprove
	}
	if rejectRe.MatchString(trimmed) || anyMatch(p.extraReject, trimmed) {
		return models.DecisionReject
	}
	if abstainRe.MatchString(trimmed) || anyMatch(p.extraAbstain, trimmed) {
		return models.DecisionAbstain
	}

	if p.Unmatched != nil {
		p.Unmatched(trimmed)
	}
	return models.DecisionAbstain
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
