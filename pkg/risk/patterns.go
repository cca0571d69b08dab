package risk

import "github.com/parapet-labs/parapet/pkg/contracts"

// DefaultPatternSpecs is the baseline signature set. CRITICAL entries
// come first; order matters because the first match wins.
func DefaultPatternSpecs() []PatternSpec {
	return []PatternSpec{
		// CRITICAL: destruction with no meaningful recovery path.
		{Name: "recursive_root_delete", Level: contracts.RiskCritical,
			Match: `rm\s+(-[a-zA-Z]*)?r[a-zA-Z]*f[a-zA-Z]*\s+/\s*$`},
		{Name: "recursive_home_delete", Level: contracts.RiskCritical,
			Match: `rm\s+(-[a-zA-Z]*)?r[a-zA-Z]*f[a-zA-Z]*\s+~\s*$`},
		{Name: "recursive_system_delete", Level: contracts.RiskCritical,
			Match: `rm\s+(-[a-zA-Z]*)?r[a-zA-Z]*f[a-zA-Z]*\s+/(etc|usr|bin|sbin|boot|lib|home|root|opt|srv|sys|dev|proc)\b`},
		{Name: "database_drop", Level: contracts.RiskCritical,
			Match: `\bDROP\s+(DATABASE|TABLE)\b`},
		{Name: "disk_format", Level: contracts.RiskCritical,
			Match: `\bmkfs\b|\bfdisk\b`},
		{Name: "disk_zero", Level: contracts.RiskCritical,
			Match: `\bdd\s+if=/dev/zero\b`},
		{Name: "pipe_to_shell", Level: contracts.RiskCritical,
			Match: `\b(curl|wget)\b.*\|\s*(ba)?sh\b`,
			Guard: `tool == "shell"`},
		{Name: "recursive_permission_escalation", Level: contracts.RiskCritical,
			Match: `\bchmod\s+.*-R\s+.*777\s+/\s*$`},

		// HIGH: destructive but scoped or recoverable.
		{Name: "recursive_delete", Level: contracts.RiskHigh,
			Match: `\brm\s+(-[a-zA-Z]*)?r[a-zA-Z]*f`},
		{Name: "git_force_push", Level: contracts.RiskHigh,
			Match: `\bgit\s+push\s+.*--force\b`},
		{Name: "git_hard_reset", Level: contracts.RiskHigh,
			Match: `\bgit\s+reset\s+--hard\b`},
		{Name: "unscoped_sql_delete", Level: contracts.RiskHigh,
			Match: `\bDELETE\s+FROM\b`,
			Guard: `!command.matches("(?i)\\bwhere\\b")`},
		{Name: "table_truncate", Level: contracts.RiskHigh,
			Match: `\bTRUNCATE\s+TABLE\b`},
		{Name: "rsync_delete", Level: contracts.RiskHigh,
			Match: `\brsync\b.*--delete\b`},
	}
}

// mediumVerbs triggers the secondary heuristic: presence of a
// write/delete verb classifies an unmatched action as MEDIUM.
var mediumVerbs = []string{
	"rm ", "delete", "drop", "truncate", "update", "insert",
	"write", "mv ", "chmod", "chown", "kill", "push", "put ", "post ",
}
