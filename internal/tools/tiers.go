package tools

import "github.com/gitflow-ai/gitflow-mcp/internal/store"

// TierLimits bounds a subscription tier. -1 means unlimited.
type TierLimits struct {
	CommitsPerMonth int
	PRsPerMonth     int
	MaxRepos        int
	TeamFeatures    bool
}

var tierTable = map[string]TierLimits{
	store.TierFree:       {CommitsPerMonth: 10, PRsPerMonth: 3, MaxRepos: 5},
	store.TierPro:        {CommitsPerMonth: 500, PRsPerMonth: 100, MaxRepos: 100},
	store.TierEnterprise: {CommitsPerMonth: -1, PRsPerMonth: -1, MaxRepos: -1, TeamFeatures: true},
}

// LimitsFor returns the limits for a tier, defaulting unknown tiers to
// free.
func LimitsFor(tier string) TierLimits {
	if limits, ok := tierTable[tier]; ok {
		return limits
	}
	return tierTable[store.TierFree]
}

// AllowsRepos reports whether a user at count cloned repositories may
// clone another.
func (l TierLimits) AllowsRepos(count int) bool {
	return l.MaxRepos < 0 || count < l.MaxRepos
}
