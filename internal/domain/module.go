package domain

import "sort"

// Module identifies a feature area that a subscription tier may unlock.
type Module string

const (
	ModuleDashboard           Module = "dashboard"
	ModuleAnalytics           Module = "analytics"
	ModuleSettings            Module = "settings"
	ModuleGovCon              Module = "govcon"
	ModuleOpportunities       Module = "opportunities"
	ModuleProposals           Module = "proposals"
	ModuleGrants              Module = "grants"
	ModuleTeams               Module = "teams"
	ModuleAPIAccess           Module = "api_access"
	ModuleAdvancedAI          Module = "advanced_ai"
	ModuleMarketingAutomation Module = "marketing_automation"
	ModuleDailyBriefs         Module = "daily_briefs"
)

var allModules = []Module{
	ModuleDashboard,
	ModuleAnalytics,
	ModuleSettings,
	ModuleGovCon,
	ModuleOpportunities,
	ModuleProposals,
	ModuleGrants,
	ModuleTeams,
	ModuleAPIAccess,
	ModuleAdvancedAI,
	ModuleMarketingAutomation,
	ModuleDailyBriefs,
}

// AllModules returns every known module in declaration order.
func AllModules() []Module {
	out := make([]Module, len(allModules))
	copy(out, allModules)
	return out
}

// ParseModule converts a wire value to a Module.
func ParseModule(s string) (Module, bool) {
	for _, m := range allModules {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

type moduleSet map[Module]struct{}

func newModuleSet(modules ...Module) moduleSet {
	set := make(moduleSet, len(modules))
	for _, m := range modules {
		set[m] = struct{}{}
	}
	return set
}

var freeModules = []Module{
	ModuleDashboard,
	ModuleSettings,
	ModuleGovCon,
	ModuleOpportunities,
}

// tierModules is the entitlement catalog. It is built once at init and
// never written afterwards. Starter has no entry.
var tierModules = map[SubscriptionTier]moduleSet{
	SubscriptionTierFree: newModuleSet(freeModules...),
	SubscriptionTierProfessional: newModuleSet(append(append([]Module{}, freeModules...),
		ModuleAnalytics,
		ModuleProposals,
		ModuleGrants,
		ModuleTeams,
		ModuleAPIAccess,
		ModuleDailyBriefs,
	)...),
	SubscriptionTierEnterprise: newModuleSet(allModules...),
}

// HasModuleAccess reports whether tier unlocks module.
// Unknown tiers have no modules.
func HasModuleAccess(tier SubscriptionTier, module Module) bool {
	set, ok := tierModules[tier]
	if !ok {
		return false
	}
	_, ok = set[module]
	return ok
}

// AvailableModules returns the modules unlocked by tier, sorted by name.
// Unknown tiers yield an empty, non-nil slice.
func AvailableModules(tier SubscriptionTier) []Module {
	set := tierModules[tier]
	out := make([]Module, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CatalogTiers lists the tiers that have an entry in the catalog.
func CatalogTiers() []SubscriptionTier {
	return []SubscriptionTier{
		SubscriptionTierFree,
		SubscriptionTierProfessional,
		SubscriptionTierEnterprise,
	}
}
