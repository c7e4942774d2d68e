package tools

import (
	"testing"

	"github.com/gitflow-ai/gitflow-mcp/internal/store"
)

func TestLimitsFor(t *testing.T) {
	free := LimitsFor(store.TierFree)
	if free.CommitsPerMonth != 10 || free.PRsPerMonth != 3 || free.MaxRepos != 5 || free.TeamFeatures {
		t.Errorf("free limits = %+v", free)
	}

	pro := LimitsFor(store.TierPro)
	if pro.CommitsPerMonth != 500 || pro.PRsPerMonth != 100 || pro.MaxRepos != 100 {
		t.Errorf("pro limits = %+v", pro)
	}

	ent := LimitsFor(store.TierEnterprise)
	if ent.CommitsPerMonth != -1 || ent.PRsPerMonth != -1 || ent.MaxRepos != -1 || !ent.TeamFeatures {
		t.Errorf("enterprise limits = %+v", ent)
	}

	// Unknown tiers degrade to free, never to unlimited.
	if got := LimitsFor("platinum"); got != free {
		t.Errorf("unknown tier limits = %+v", got)
	}
	if got := LimitsFor(""); got != free {
		t.Errorf("empty tier limits = %+v", got)
	}
}

func TestAllowsRepos(t *testing.T) {
	free := LimitsFor(store.TierFree)
	if !free.AllowsRepos(0) || !free.AllowsRepos(4) {
		t.Error("free tier should allow clones under the cap")
	}
	if free.AllowsRepos(5) || free.AllowsRepos(6) {
		t.Error("free tier should block clones at the cap")
	}

	ent := LimitsFor(store.TierEnterprise)
	if !ent.AllowsRepos(0) || !ent.AllowsRepos(10_000) {
		t.Error("enterprise tier should never block clones")
	}
}
