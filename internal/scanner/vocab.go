package scanner

import (
	"strings"

	"github.com/mbd888/chainguard/internal/scan"
)

// functionRule maps a dangerous function-name pattern to the finding
// it triggers. Patterns match case-insensitive substrings of verified
// ABI function names; exclude suppresses a broader pattern (pause vs
// unpause). Each rule fires at most once per scan.
type functionRule struct {
	code     string
	severity scan.Severity
	title    string
	detail   string
	score    int
	patterns []string
	exclude  string
}

// Static detection vocabulary. Codes and weights are part of the
// result contract; changing them changes stored scores.
var functionRules = []functionRule{
	{
		code: "UNLIMITED_MINT", severity: scan.SeverityCritical, score: 25,
		title:    "Mint Function Detected",
		detail:   "the token supply can be inflated at will",
		patterns: []string{"mint"},
	},
	{
		code: "BLACKLIST_FUNCTION", severity: scan.SeverityHigh, score: 20,
		title:    "Blacklist Function Detected",
		detail:   "specific holders can be blocked from transferring",
		patterns: []string{"blacklist"},
	},
	{
		code: "PAUSABLE", severity: scan.SeverityMedium, score: 15,
		title:    "Pausable Contract",
		detail:   "all transfers can be halted by a privileged account",
		patterns: []string{"pause"},
		exclude:  "unpause",
	},
	{
		code: "ADJUSTABLE_FEE", severity: scan.SeverityHigh, score: 20,
		title:    "Adjustable Fee Function",
		detail:   "transfer fees or taxes can be changed after launch",
		patterns: []string{"setfee", "settax"},
	},
	{
		code: "SELFDESTRUCT", severity: scan.SeverityCritical, score: 30,
		title:    "Self-Destruct Capability",
		detail:   "the contract can be destroyed, stranding funds",
		patterns: []string{"selfdestruct"},
	},
	{
		code: "DELEGATECALL", severity: scan.SeverityHigh, score: 20,
		title:    "Delegatecall Usage",
		detail:   "arbitrary code can run in this contract's storage context",
		patterns: []string{"delegatecall"},
	},
	{
		code: "UPGRADEABLE", severity: scan.SeverityHigh, score: 20,
		title:    "Upgrade Function Detected",
		detail:   "the contract logic can be replaced after deployment",
		patterns: []string{"upgrade"},
		exclude:  "upgradefee",
	},
}

// matches reports whether any of the function names triggers this
// rule, and returns the names that did.
func (r functionRule) matches(names []string) []string {
	var hits []string
	for _, name := range names {
		lower := strings.ToLower(name)
		if r.exclude != "" && strings.Contains(lower, r.exclude) {
			continue
		}
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				hits = append(hits, name)
				break
			}
		}
	}
	return hits
}

// Known mixer service addresses (Tornado Cash pools), lowercased.
// Static table; extend deliberately, never at runtime.
var mixerAddresses = map[string]bool{
	"0x12d66f87a04a9e220743712ce6d9bb1b5616b8fc": true,
	"0x47ce0c6ed5b0ce3d3a51fdb1c52dc66a7c3c2936": true,
	"0x910cbd523d972eb0a6f4cae4618ad62622b39dbf": true,
	"0xa160cdab225685da1d56aa342ad8841c3b53f291": true,
}

// IsMixerAddress reports whether addr is a known mixer pool.
func IsMixerAddress(addr string) bool {
	return mixerAddresses[strings.ToLower(addr)]
}
