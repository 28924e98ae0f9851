package planner

import (
	"regexp"
	"strings"

	"github.com/termpilot/termpilot/internal/types"
)

type riskPattern struct {
	re      *regexp.Regexp
	warning string
}

// Pattern tables for the local classifier. Matching is done on the
// lowercased command. Critical patterns describe operations that can
// destroy data or take the host down; caution patterns mutate state in
// recoverable ways.
var (
	criticalPatterns = []riskPattern{
		{regexp.MustCompile(`\brm\s+-rf\b`), "recursive force delete"},
		{regexp.MustCompile(`\brm\s+-rf\s*/`), "delete root directory"},
		{regexp.MustCompile(`\bchmod\s+777\b`), "world-writable permissions"},
		{regexp.MustCompile(`\bchown\s+-r`), "recursive ownership change"},
		{regexp.MustCompile(`\bmkfs\b`), "format filesystem"},
		{regexp.MustCompile(`\bdd\b`), "raw disk write"},
		{regexp.MustCompile(`>\s*/dev/sd`), "overwrite disk"},
		{regexp.MustCompile(`\bshutdown\s+-h\s+now`), "immediate shutdown"},
		{regexp.MustCompile(`\breboot\b`), "system reboot"},
		{regexp.MustCompile(`\bsudo\s+rm\b`), "privileged delete"},
		{regexp.MustCompile(`\bfind\s+.+\s+-delete\b`), "find and delete"},
		{regexp.MustCompile(`\bchmod\s+[0-7]777\b`), "overly permissive"},
	}

	cautionPatterns = []riskPattern{
		{regexp.MustCompile(`\brm\b`), "file deletion"},
		{regexp.MustCompile(`\bchmod\b`), "permission changes"},
		{regexp.MustCompile(`\bchown\b`), "ownership changes"},
		{regexp.MustCompile(`\bmv\b`), "file movement"},
		{regexp.MustCompile(`\bcp\b`), "file copying"},
		{regexp.MustCompile(`\bscp\b`), "remote copying"},
		{regexp.MustCompile(`\bsudo\b`), "privileged execution"},
		{regexp.MustCompile(`\bapt-get\b`), "package management"},
		{regexp.MustCompile(`\byum\b`), "package management"},
		{regexp.MustCompile(`\bpip\b`), "package management"},
	}
)

// ClassifyLocal assesses a command's risk using the local pattern tables.
func ClassifyLocal(command string) types.RiskLevel {
	lower := strings.ToLower(command)
	for _, p := range criticalPatterns {
		if p.re.MatchString(lower) {
			return types.RiskCritical
		}
	}
	for _, p := range cautionPatterns {
		if p.re.MatchString(lower) {
			return types.RiskCaution
		}
	}
	return types.RiskSafe
}

// Warnings lists human-readable risk notes for a command.
func Warnings(command string) []string {
	lower := strings.ToLower(command)
	var out []string
	for _, p := range criticalPatterns {
		if p.re.MatchString(lower) {
			out = append(out, p.warning)
		}
	}
	for _, p := range cautionPatterns {
		if p.re.MatchString(lower) {
			out = append(out, p.warning)
		}
	}
	return out
}
