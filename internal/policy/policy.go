// Package policy detects and remediates remote rejections raised by
// GitHub's push-protection service. File contents are never scanned
// locally; the remote service is the authoritative verifier on retry.
package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ViolationType classifies a push rejection.
type ViolationType string

const (
	SecretDetected  ViolationType = "secret-detected"
	PolicyViolation ViolationType = "policy-violation"
	UnknownType     ViolationType = "unknown"
)

// Violation is one flagged occurrence within the rejected push.
type Violation struct {
	File       string
	Line       int // 0 when not reported
	SecretType string
	RawMatch   string
}

// ParsedViolation is the typed view of a raw rejection message.
type ParsedViolation struct {
	Type        ViolationType
	Violations  []Violation
	Message     string
	Suggestions []string
}

var (
	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)GH009`),
		regexp.MustCompile(`(?i)secrets? detected`),
		regexp.MustCompile(`(?i)push .*declined.*secret`),
	}
	rulePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)GH013`),
		regexp.MustCompile(`(?i)repository rule violations`),
	}
)

// IsPolicyViolation reports whether the error text is a push-protection
// rejection.
func IsPolicyViolation(errorText string) bool {
	return classify(errorText) != UnknownType
}

func classify(errorText string) ViolationType {
	for _, p := range secretPatterns {
		if p.MatchString(errorText) {
			return SecretDetected
		}
	}
	for _, p := range rulePatterns {
		if p.MatchString(errorText) {
			return PolicyViolation
		}
	}
	return UnknownType
}

// File/line extraction, specific to general.
var (
	pathLinePattern     = regexp.MustCompile(`([\w./-]+\.\w+):(\d+)`)
	inFilePattern       = regexp.MustCompile(`(?i)in file ([\w./-]+\.\w+)`)
	detectedInPattern   = regexp.MustCompile(`(?i)detected in ([\w./-]+\.\w+)(?:,? line (\d+))?`)
	knownFilePattern    = regexp.MustCompile(`\b[\w./-]+\.(?:js|jsx|ts|tsx|py|go|rb|java|php|json|ya?ml|env|txt|sh|tf|pem|key|cfg|conf|ini|toml|md)\b`)
)

// secretTypeTable maps keywords in the combined error text and file path
// to a human label. Ordered: first match wins.
var secretTypeTable = []struct {
	label    string
	keywords []string
}{
	{"AWS Access Key", []string{"aws", "akia"}},
	{"GitHub Token", []string{"github", "ghp_", "gho_", "ghs_"}},
	{"Stripe Key", []string{"stripe", "sk_live", "sk_test"}},
	{"Google API Key", []string{"google", "aiza"}},
	{"Azure Key", []string{"azure"}},
	{"Private Key", []string{"private key", "-----begin", ".pem", ".key"}},
	{"Database Connection String", []string{"connection string", "postgres://", "postgresql://", "mysql://", "mongodb"}},
	{"API Key", []string{"api key", "api_key", "apikey"}},
}

func secretTypeFor(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range secretTypeTable {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.label
			}
		}
	}
	return "Unknown Secret"
}

// ParseViolation extracts the violation type, flagged files and a
// user-facing message with remediation steps from a rejection.
func ParseViolation(errorText string) ParsedViolation {
	vtype := classify(errorText)

	var violations []Violation
	seen := make(map[string]struct{})
	seenFile := make(map[string]struct{})
	add := func(file string, line int, raw string) {
		// A line-less match adds nothing when the file is already known.
		if line == 0 {
			if _, ok := seenFile[file]; ok {
				return
			}
		}
		key := file + ":" + strconv.Itoa(line)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		seenFile[file] = struct{}{}
		violations = append(violations, Violation{
			File:       file,
			Line:       line,
			SecretType: secretTypeFor(errorText + " " + file),
			RawMatch:   raw,
		})
	}

	for _, m := range pathLinePattern.FindAllStringSubmatch(errorText, -1) {
		line, _ := strconv.Atoi(m[2])
		add(m[1], line, m[0])
	}
	for _, m := range inFilePattern.FindAllStringSubmatch(errorText, -1) {
		add(m[1], 0, m[0])
	}
	for _, m := range detectedInPattern.FindAllStringSubmatch(errorText, -1) {
		line := 0
		if m[2] != "" {
			line, _ = strconv.Atoi(m[2])
		}
		add(m[1], line, m[0])
	}
	if len(violations) == 0 {
		for _, m := range knownFilePattern.FindAllString(errorText, -1) {
			add(m, 0, m)
		}
	}

	parsed := ParsedViolation{
		Type:       vtype,
		Violations: violations,
	}

	switch vtype {
	case SecretDetected:
		parsed.Message = "GitHub blocked this push because it detected a secret in your changes."
		parsed.Suggestions = []string{
			"Remove the secret from the flagged file",
			"Use an environment variable or a secrets manager instead",
			"Save the file, then ask me to push again",
		}
	case PolicyViolation:
		parsed.Message = "GitHub blocked this push because it violates a repository rule."
		parsed.Suggestions = []string{
			"Review the repository's protection rules",
			"Adjust your changes to satisfy the rule",
			"Ask a repository admin if the rule looks wrong",
		}
	default:
		parsed.Message = "GitHub rejected this push."
		parsed.Suggestions = []string{"Review the rejection details and try again"}
	}

	return parsed
}

// Steps composes concrete per-violation next-step instructions.
func (p ParsedViolation) Steps() []string {
	var steps []string
	for _, v := range p.Violations {
		if v.Line > 0 {
			steps = append(steps, fmt.Sprintf("Open %s at line %d", v.File, v.Line))
		} else {
			steps = append(steps, fmt.Sprintf("Open %s", v.File))
		}
		steps = append(steps, fmt.Sprintf("Remove the %s", v.SecretType))
	}
	steps = append(steps, "Save your changes")
	steps = append(steps, "Tell me when you're ready and I'll retry the push")
	return steps
}
