package registry

import (
	"sort"
	"testing"
)

func TestTierFallsBackToFree(t *testing.T) {
	r := New(DefaultModels(), DefaultTiers())

	got := r.Tier("enterprise")
	if got.Tier != TierFree {
		t.Errorf("unknown tier resolved to %q, want free", got.Tier)
	}
	if got := r.Tier(TierPro); got.Tier != TierPro {
		t.Errorf("known tier resolved to %q, want pro", got.Tier)
	}
}

func TestModelLookup(t *testing.T) {
	r := New(DefaultModels(), DefaultTiers())

	mc, ok := r.Model("claude-sonnet")
	if !ok {
		t.Fatal("claude-sonnet missing from catalog")
	}
	if mc.Provider != ProviderAnthropic {
		t.Errorf("provider = %q, want anthropic", mc.Provider)
	}

	if _, ok := r.Model("nonexistent"); ok {
		t.Error("unknown model id should not resolve")
	}
}

func TestModelsSorted(t *testing.T) {
	r := New(DefaultModels(), DefaultTiers())

	all := r.Models()
	if len(all) != len(DefaultModels()) {
		t.Fatalf("models = %d, want %d", len(all), len(DefaultModels()))
	}
	if !sort.SliceIsSorted(all, func(i, j int) bool { return all[i].ID < all[j].ID }) {
		t.Error("Models() must be sorted by id")
	}
}

func TestDefaultTiersShape(t *testing.T) {
	r := New(DefaultModels(), DefaultTiers())

	free := r.Tier(TierFree)
	if free.Memory {
		t.Error("free tier must not have memory")
	}
	if free.Summarize {
		t.Error("free tier must not summarize")
	}

	pro := r.Tier(TierPro)
	if !pro.Summarize || !pro.Memory {
		t.Error("pro tier should have memory and summarization")
	}
	if pro.MonthlyCredits != 2000 {
		t.Errorf("pro credits = %d, want 2000", pro.MonthlyCredits)
	}
}
