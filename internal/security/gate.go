package security

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

// Gate classifies content, code and tool arguments as safe or unsafe.
// All checks are pure pattern matching; a Gate is safe for concurrent use
// once constructed.
type Gate struct {
	code        []rule
	resource    []rule
	harmful     []*regexp.Regexp
	deniedTools map[string]struct{}
	deniedPaths []string
	logger      *slog.Logger
}

// NewGate compiles the built-in rule tables plus any configured extras.
func NewGate(cfg config.SafetyConfig, logger *slog.Logger) (*Gate, error) {
	g := &Gate{
		code:        append([]rule(nil), dangerousCode...),
		resource:    resourceCode,
		deniedTools: make(map[string]struct{}, len(cfg.DeniedTools)),
		logger:      logger,
	}
	for _, p := range cfg.ExtraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: safety pattern %q: %v", domain.ErrInvalidInput, p, err)
		}
		g.code = append(g.code, rule{re: re, issue: domain.IssueDangerousCommand, severity: domain.SeverityCritical})
	}
	for _, kw := range append(append([]string(nil), defaultHarmful...), cfg.HarmfulKeywords...) {
		re, err := regexp.Compile(`(?i)` + kw)
		if err != nil {
			return nil, fmt.Errorf("%w: harmful keyword %q: %v", domain.ErrInvalidInput, kw, err)
		}
		g.harmful = append(g.harmful, re)
	}
	for _, t := range cfg.DeniedTools {
		g.deniedTools[t] = struct{}{}
	}
	for _, p := range cfg.DeniedPaths {
		g.deniedPaths = append(g.deniedPaths, strings.ToLower(p))
	}
	return g, nil
}

// CheckCode reports dangerous command patterns, one issue per match,
// located by line number.
func (g *Gate) CheckCode(code any) domain.SafetyResult {
	text, ok := code.(string)
	if !ok {
		return invalidInput("code", code)
	}
	return domain.NewSafetyResult(matchRules(g.code, text))
}

// CheckResourcePatterns reports infinite loops and oversized allocations.
func (g *Gate) CheckResourcePatterns(code any) domain.SafetyResult {
	text, ok := code.(string)
	if !ok {
		return invalidInput("code", code)
	}
	return domain.NewSafetyResult(matchRules(g.resource, text))
}

// CheckContent reports harmful vocabulary and PII.
func (g *Gate) CheckContent(content any) domain.SafetyResult {
	text, ok := content.(string)
	if !ok {
		return invalidInput("content", content)
	}
	return domain.NewSafetyResult(g.contentIssues(text))
}

func (g *Gate) contentIssues(text string) []domain.SafetyIssue {
	var issues []domain.SafetyIssue
	for _, re := range g.harmful {
		for _, m := range re.FindAllString(text, -1) {
			issues = append(issues, domain.SafetyIssue{
				Type:     domain.IssueHarmfulContent,
				Severity: domain.SeverityHigh,
				Detail:   fmt.Sprintf("harmful term %q", m),
			})
		}
	}
	for _, p := range piiPatterns {
		for range p.re.FindAllStringIndex(text, -1) {
			// The matched value is PII; only its kind goes into the detail.
			issues = append(issues, domain.SafetyIssue{
				Type:     domain.IssuePIIDetected,
				Severity: domain.SeverityHigh,
				Detail:   p.name,
			})
		}
	}
	return issues
}

// CheckToolArgs rejects denylisted tools outright and walks args, including
// nested maps and slices, for strings that start with a protected path.
func (g *Gate) CheckToolArgs(toolName string, args map[string]any) domain.SafetyResult {
	if _, denied := g.deniedTools[toolName]; denied {
		return domain.NewSafetyResult([]domain.SafetyIssue{{
			Type:     domain.IssueUnsafeTool,
			Severity: domain.SeverityCritical,
			Detail:   fmt.Sprintf("tool %s requires elevated permissions", toolName),
		}})
	}

	var issues []domain.SafetyIssue
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		issues = g.walkArg(k, args[k], issues)
	}
	if len(issues) > 0 && g.logger != nil {
		g.logger.Warn("unsafe tool arguments", "tool", toolName, "issues", len(issues))
	}
	return domain.NewSafetyResult(issues)
}

func (g *Gate) walkArg(path string, v any, issues []domain.SafetyIssue) []domain.SafetyIssue {
	switch val := v.(type) {
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		for _, p := range g.deniedPaths {
			if strings.HasPrefix(lower, p) {
				issues = append(issues, domain.SafetyIssue{
					Type:     domain.IssueUnsafePath,
					Severity: domain.SeverityCritical,
					Detail:   fmt.Sprintf("potentially dangerous path: %s", val),
					Location: path,
				})
				break
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			issues = g.walkArg(path+"."+k, val[k], issues)
		}
	case []any:
		for i, item := range val {
			issues = g.walkArg(fmt.Sprintf("%s[%d]", path, i), item, issues)
		}
	case []string:
		for i, item := range val {
			issues = g.walkArg(fmt.Sprintf("%s[%d]", path, i), item, issues)
		}
	}
	return issues
}

// CheckAll unions code, resource and content issues for text.
func (g *Gate) CheckAll(text any) domain.SafetyResult {
	s, ok := text.(string)
	if !ok {
		return invalidInput("text", text)
	}
	issues := matchRules(g.code, s)
	issues = append(issues, matchRules(g.resource, s)...)
	issues = append(issues, g.contentIssues(s)...)
	return domain.NewSafetyResult(issues)
}

func matchRules(rules []rule, text string) []domain.SafetyIssue {
	var issues []domain.SafetyIssue
	for _, r := range rules {
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			if r.notAfterDot && loc[0] > 0 && text[loc[0]-1] == '.' {
				continue
			}
			issues = append(issues, domain.SafetyIssue{
				Type:     r.issue,
				Severity: r.severity,
				Detail:   text[loc[0]:loc[1]],
				Location: fmt.Sprintf("line %d", strings.Count(text[:loc[0]], "\n")+1),
			})
		}
	}
	return issues
}

func invalidInput(what string, v any) domain.SafetyResult {
	return domain.NewSafetyResult([]domain.SafetyIssue{{
		Type:     domain.IssueInvalidInput,
		Severity: domain.SeverityHigh,
		Detail:   fmt.Sprintf("%s must be a string, got %T", what, v),
	}})
}

var _ domain.SafetyChecker = (*Gate)(nil)
