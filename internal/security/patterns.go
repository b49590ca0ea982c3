package security

import (
	"regexp"

	"conductor/internal/domain"
)

// rule is one compiled pattern with the issue it raises.
type rule struct {
	re       *regexp.Regexp
	issue    string
	severity domain.Severity
	// notAfterDot rejects matches preceded by '.', standing in for a
	// lookbehind that RE2 does not support (obj.os.system is not os.system).
	notAfterDot bool
}

var dangerousCode = []rule{
	{re: regexp.MustCompile(`(?i)rm\s+-rf\s+/`), issue: domain.IssueDangerousCommand, severity: domain.SeverityCritical},
	{re: regexp.MustCompile(`(?i)sudo\s+`), issue: domain.IssueDangerousCommand, severity: domain.SeverityCritical},
	{re: regexp.MustCompile(`(?i)exec\s*\(`), issue: domain.IssueDangerousCommand, severity: domain.SeverityCritical},
	{re: regexp.MustCompile(`(?i)eval\s*\(`), issue: domain.IssueDangerousCommand, severity: domain.SeverityCritical},
	{re: regexp.MustCompile(`(?i)\bos\s*\.\s*system\s*\(`), issue: domain.IssueDangerousCommand, severity: domain.SeverityCritical, notAfterDot: true},
	{re: regexp.MustCompile(`(?i)subprocess\s*\.\s*(?:call|run|Popen)`), issue: domain.IssueDangerousCommand, severity: domain.SeverityCritical},
}

var resourceCode = []rule{
	{re: regexp.MustCompile(`while\s*True\s*:`), issue: domain.IssueInfiniteLoop, severity: domain.SeverityMedium},
	{re: regexp.MustCompile(`for\s*.*\s*in\s*range\s*\(\s*[0-9]{8,}\s*\)`), issue: domain.IssueMemoryLimit, severity: domain.SeverityHigh},
	{re: regexp.MustCompile(`\[\s*0\s*\]\s*\*\s*(?:[0-9]{8,}|10\s*\*\*\s*[0-9]+)`), issue: domain.IssueMemoryLimit, severity: domain.SeverityHigh},
}

var piiPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"ssn", regexp.MustCompile(`\b\d{3}[-.]?\d{2}[-.]?\d{4}\b`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)},
}

var defaultHarmful = []string{"virus", "malware", "exploit", `hack\s+into`}
