package permission

// =============================================================================
// Risk Tiers
// =============================================================================

// Tier is a candidate's risk classification. Ordering is meaningful: a
// higher tier always dominates when tiers are combined, and TierUnknown
// dominates everything so that absence of a declaration can never relax a
// capability's derived risk.
type Tier int

const (
	TierSafe Tier = iota
	TierModerate
	TierDangerous
	TierUnknown
)

// String returns the tier's wire label.
func (t Tier) String() string {
	switch t {
	case TierSafe:
		return "safe"
	case TierModerate:
		return "moderate"
	case TierDangerous:
		return "dangerous"
	default:
		return "unknown"
	}
}

// MaxTier returns the dominating tier of the two.
func MaxTier(a, b Tier) Tier {
	if a > b {
		return a
	}
	return b
}

// Scope is a declared access scope from the permission descriptor.
type Scope string

const (
	ScopeMinimal    Scope = "minimal"
	ScopeFilesystem Scope = "filesystem"
	ScopeNetwork    Scope = "network"
	ScopeElevated   Scope = "elevated"
)

// tierOfScope is the static scope-to-risk table. Classification is a table
// lookup against declared scopes, never a heuristic over candidate names.
func tierOfScope(s Scope) Tier {
	switch s {
	case ScopeMinimal:
		return TierSafe
	case ScopeFilesystem, ScopeNetwork:
		return TierModerate
	case ScopeElevated:
		return TierDangerous
	default:
		return TierUnknown
	}
}

// Approval is the declared approval mode for a namespace.
type Approval string

const (
	// ApprovalAutomatic lets scoring and thresholds decide.
	ApprovalAutomatic Approval = "automatic"

	// ApprovalAlwaysHuman forces human review regardless of score.
	ApprovalAlwaysHuman Approval = "always_human"
)
