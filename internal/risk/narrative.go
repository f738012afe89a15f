package risk

import "slices"

// narrative holds the fixed, tier-dependent text of a verdict.
type narrative struct {
	explanation          string
	whyNotLow            string
	tips                 []string
	businessImpact       string
	recommendationImpact string
	confidence           float64
}

// narratives must have an entry for every Tier. Never mutate; narrativeFor
// hands out copies.
var narratives = map[Tier]narrative{
	TierHigh: {
		explanation:          "Critical risk vectors detected. Account activity matches velocity or early-lifecycle fraud patterns and requires immediate escalation.",
		whyNotLow:            "Presence of critical risk vector (Velocity/Geo) prevents Low classification regardless of other factors.",
		tips:                 []string{"Verify User Identity via Video Call", "Place temporary hold on withdrawals"},
		businessImpact:       "High potential for chargeback loss and AML non-compliance fines ($50k+ exposure).",
		recommendationImpact: "Potential Fraud Loss Prevention: ~$15,000",
		confidence:           0.99,
	},
	TierMedium: {
		explanation:          "Anomalous activity detected. Recent geo-location or profile behavior deviates from the expected pattern and should be verified.",
		whyNotLow:            "Recent anomalous activity (Geo/Profile) exceeds 'Low' threshold variants.",
		tips:                 []string{"Request specialized proof of address", "Phone verification of recent changes"},
		businessImpact:       "Elevated manual review cost. Potential friction for legitimate user.",
		recommendationImpact: "Reduce False Positive Rate by 40% via targeted verification.",
		confidence:           0.88,
	},
	TierLow: {
		explanation:          "No significant risk indicators. Account behavior is consistent with normal usage.",
		whyNotLow:            "N/A - Risk is already considered Low.",
		tips:                 []string{"Continue standard monitoring"},
		businessImpact:       "Standard operational overhead only.",
		recommendationImpact: "Maintain frictionless user experience (0s delay).",
		confidence:           0.995,
	},
}

func narrativeFor(t Tier) narrative {
	n, ok := narratives[t]
	if !ok {
		n = narratives[TierLow]
	}
	n.tips = slices.Clone(n.tips)
	return n
}
