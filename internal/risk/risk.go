// Package risk implements the account risk decision engine.
//
// Four behavioral counters (account age, withdrawal attempts, geo-location
// switches and profile edits) are run through a fixed, ordered list of rules.
// The rules accumulate a score, human-readable signals and compliance
// policies, and may raise the risk tier. The final tier selects the
// recommended action and the narrative fields of the verdict.
package risk

// Tier is the three-level risk classification.
type Tier string

const (
	TierLow    Tier = "Low"
	TierMedium Tier = "Medium"
	TierHigh   Tier = "High"
)

// rank orders tiers as a lattice: Low < Medium < High.
func (t Tier) rank() int {
	switch t {
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// raiseTo returns the higher of cur and target. It never lowers a tier.
func raiseTo(cur, target Tier) Tier {
	if target.rank() > cur.rank() {
		return target
	}
	return cur
}

// Action is the remediation recommended for a verdict.
type Action string

const (
	ActionMonitor             Action = "Monitor"
	ActionRequestVerification Action = "Request verification"
	ActionEscalate            Action = "Escalate"
)

// Baseline state of every evaluation.
const (
	BaselineScore = 15
	MinScore      = 0
	MaxScore      = 99
)

// Signals is the behavioral input for one account. Zero values mean the
// counter was not supplied.
type Signals struct {
	AccountAgeDays     int `json:"account_age_days"`
	WithdrawalAttempts int `json:"withdrawal_attempts"`
	GeoSwitches        int `json:"geo_switches"`
	ProfileChanges     int `json:"profile_changes"`
}

// clamped returns a copy with negative counters replaced by zero.
func (s Signals) clamped() Signals {
	return Signals{
		AccountAgeDays:     max(s.AccountAgeDays, 0),
		WithdrawalAttempts: max(s.WithdrawalAttempts, 0),
		GeoSwitches:        max(s.GeoSwitches, 0),
		ProfileChanges:     max(s.ProfileChanges, 0),
	}
}

// Policy identifies a compliance rule tied to a triggered signal.
type Policy struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Verdict is the complete result of one evaluation.
type Verdict struct {
	RiskLevel            Tier     `json:"risk_level"`
	RiskScore            int      `json:"risk_score"`
	RiskSignals          []string `json:"risk_signals"`
	TriggeredPolicies    []Policy `json:"triggered_policies"`
	RecommendedAction    Action   `json:"recommended_action"`
	Explanation          string   `json:"explanation"`
	WhyNotLow            string   `json:"why_not_low,omitempty"`
	RiskReductionTips    []string `json:"risk_reduction_tips"`
	BusinessImpact       string   `json:"business_impact"`
	RecommendationImpact string   `json:"recommendation_impact"`
	ConfidenceScore      float64  `json:"confidence_score"`
}
