package rules

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"facegate/internal/domain"
)

type compiledRule interface {
	Apply(regions []domain.FaceRegion) []domain.FaceRegion
}

// RuleParser parses one line into a compiled rule.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (compiledRule, error)
}

// Engine filters detected face regions with rules loaded from a file.
type Engine struct {
	rules []compiledRule
}

// NewEngine loads and compiles rules from a file using built-in parsers.
func NewEngine(path string) (*Engine, error) {
	return NewEngineWithParsers(path, defaultRuleParsers())
}

// NewEngineWithParsers allows parser extension without engine changes.
func NewEngineWithParsers(path string, parsers []RuleParser) (*Engine, error) {
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	if strings.TrimSpace(path) == "" {
		return &Engine{}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Engine{}, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	rules, err := parseRules(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}

	return &Engine{rules: rules}, nil
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply returns the regions that pass every rule, in rule order.
func (e *Engine) Apply(regions []domain.FaceRegion) []domain.FaceRegion {
	if len(e.rules) == 0 {
		return regions
	}

	result := append([]domain.FaceRegion(nil), regions...)
	for _, rule := range e.rules {
		result = rule.Apply(result)
		if len(result) == 0 {
			return nil
		}
	}
	return result
}

func parseRules(contents string, parsers []RuleParser) ([]compiledRule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]compiledRule, 0, len(lines))

	for index, raw := range lines {
		line := raw
		if hash := strings.Index(line, "#"); hash >= 0 {
			line = line[:hash]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			rule, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			rules = append(rules, rule)
			parsed = true
			break
		}

		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
	}

	return rules, nil
}

func defaultRuleParsers() []RuleParser {
	return []RuleParser{
		keywordParser{keyword: "min_size", parse: parseMinSize},
		keywordParser{keyword: "min_confidence", parse: parseMinConfidence},
		keywordParser{keyword: "max_faces", parse: parseMaxFaces},
		keywordParser{keyword: "largest_only", parse: parseLargestOnly},
	}
}

// keywordParser matches lines whose first field is keyword.
type keywordParser struct {
	keyword string
	parse   func(args []string) (compiledRule, error)
}

func (p keywordParser) CanParse(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && strings.EqualFold(fields[0], p.keyword)
}

func (p keywordParser) Parse(line string) (compiledRule, error) {
	rule, err := p.parse(strings.Fields(line)[1:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.keyword, err)
	}
	return rule, nil
}

type minSizeRule struct {
	pixels int
}

func parseMinSize(args []string) (compiledRule, error) {
	pixels, err := singlePositiveInt(args)
	if err != nil {
		return nil, err
	}
	return minSizeRule{pixels: pixels}, nil
}

func (r minSizeRule) Apply(regions []domain.FaceRegion) []domain.FaceRegion {
	out := regions[:0]
	for _, region := range regions {
		if region.Width >= r.pixels && region.Height >= r.pixels {
			out = append(out, region)
		}
	}
	return out
}

type minConfidenceRule struct {
	threshold float64
}

func parseMinConfidence(args []string) (compiledRule, error) {
	if len(args) != 1 {
		return nil, errors.New("expected exactly one value")
	}
	threshold, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid threshold: %w", err)
	}
	if threshold < 0 || threshold > 1 {
		return nil, errors.New("threshold must be between 0 and 1")
	}
	return minConfidenceRule{threshold: threshold}, nil
}

func (r minConfidenceRule) Apply(regions []domain.FaceRegion) []domain.FaceRegion {
	out := regions[:0]
	for _, region := range regions {
		if region.Confidence >= r.threshold {
			out = append(out, region)
		}
	}
	return out
}

// maxFacesRule rejects the whole frame when too many faces are visible.
type maxFacesRule struct {
	limit int
}

func parseMaxFaces(args []string) (compiledRule, error) {
	limit, err := singlePositiveInt(args)
	if err != nil {
		return nil, err
	}
	return maxFacesRule{limit: limit}, nil
}

func (r maxFacesRule) Apply(regions []domain.FaceRegion) []domain.FaceRegion {
	if len(regions) > r.limit {
		return nil
	}
	return regions
}

type largestOnlyRule struct{}

func parseLargestOnly(args []string) (compiledRule, error) {
	if len(args) != 0 {
		return nil, errors.New("takes no arguments")
	}
	return largestOnlyRule{}, nil
}

func (largestOnlyRule) Apply(regions []domain.FaceRegion) []domain.FaceRegion {
	if len(regions) <= 1 {
		return regions
	}
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Width*regions[i].Height > regions[j].Width*regions[j].Height
	})
	return regions[:1]
}

func singlePositiveInt(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected exactly one value")
	}
	value, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if value <= 0 {
		return 0, errors.New("value must be positive")
	}
	return value, nil
}
