package license

import "github.com/shopspring/decimal"

// Tier identifies a pricing tier. The zero value is not valid; use
// ParseTier for values decoded from untrusted payloads.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierElite      Tier = "elite"
	TierLifetime   Tier = "lifetime"
	TierEnterprise Tier = "enterprise"
	TierWhiteLabel Tier = "white_label"
)

// tierOrder is the total order used for grace-period downgrade. The
// index of a tier is its rank; Downgrade is index arithmetic.
var tierOrder = []Tier{
	TierFree,
	TierPro,
	TierElite,
	TierLifetime,
	TierEnterprise,
	TierWhiteLabel,
}

// AllTiers returns every known tier in rank order.
func AllTiers() []Tier {
	out := make([]Tier, len(tierOrder))
	copy(out, tierOrder)
	return out
}

// ParseTier maps a raw string to a known tier. Unknown values fall
// back to free: tier strings can originate from decoded key payloads
// and must never be trusted to be well-formed.
func ParseTier(s string) Tier {
	t := Tier(s)
	if t.rank() >= 0 {
		return t
	}
	return TierFree
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool { return t.rank() >= 0 }

// Perpetual reports whether licenses of this tier are issued without an
// expiry date.
func (t Tier) Perpetual() bool {
	switch t {
	case TierLifetime, TierEnterprise, TierWhiteLabel:
		return true
	}
	return false
}

func (t Tier) rank() int {
	for i, o := range tierOrder {
		if o == t {
			return i
		}
	}
	return -1
}

// Downgrade maps a tier to its immediate predecessor in the fixed
// order. Free is a fixed point; unknown tiers collapse to free.
func Downgrade(t Tier) Tier {
	r := t.rank()
	if r <= 0 {
		return TierFree
	}
	return tierOrder[r-1]
}

// TierDefinition is the static feature set attached to a tier. Not
// persisted; the catalog below is the single source of truth.
type TierDefinition struct {
	Tier          Tier            `json:"tier"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	PriceCustom   bool            `json:"price_custom,omitempty"`
	BillingPeriod string          `json:"billing_period,omitempty"`
	Strategies    []string        `json:"strategies,omitempty"`
	AllStrategies bool            `json:"all_strategies,omitempty"`
	MaxAgents     int             `json:"max_agents"`
	MaxStrategies int             `json:"max_strategies"`
	Features      []string        `json:"features"`
	Description   string          `json:"description"`
}

// Unlimited marks agent/strategy limits without a cap.
const Unlimited = -1

var tierCatalog = map[Tier]TierDefinition{
	TierFree: {
		Tier:          TierFree,
		Name:          "Free",
		Price:         decimal.Zero,
		Strategies:    []string{"dca_basic"},
		MaxAgents:     1,
		MaxStrategies: 1,
		Features: []string{
			"DCA Basic strategy",
			"1 trading agent",
			"Basic dashboard",
			"Community support",
		},
		Description: "Perfect for getting started with automated trading",
	},
	TierPro: {
		Tier:          TierPro,
		Name:          "Pro",
		Price:         decimal.NewFromInt(99),
		BillingPeriod: "monthly",
		Strategies:    []string{"dca_basic", "momentum", "rsi", "macd", "bollinger"},
		MaxAgents:     5,
		MaxStrategies: 5,
		Features: []string{
			"Momentum strategy",
			"RSI strategy",
			"MACD strategy",
			"Bollinger Bands strategy",
			"Up to 5 trading agents",
			"Advanced analytics",
			"Priority email support",
			"API access",
		},
		Description: "Advanced trading strategies for serious traders",
	},
	TierElite: {
		Tier:          TierElite,
		Name:          "Elite",
		Price:         decimal.NewFromInt(299),
		BillingPeriod: "monthly",
		AllStrategies: true,
		MaxAgents:     Unlimited,
		MaxStrategies: Unlimited,
		Features: []string{
			"All trading strategies",
			"Unlimited trading agents",
			"Machine learning strategies",
			"Portfolio optimization",
			"Risk management tools",
			"Real-time alerts",
			"Premium support",
			"Custom strategy builder",
			"Backtesting engine",
		},
		Description: "Complete trading arsenal for professional traders",
	},
	TierLifetime: {
		Tier:          TierLifetime,
		Name:          "Lifetime",
		Price:         decimal.NewFromInt(1999),
		BillingPeriod: "once",
		AllStrategies: true,
		MaxAgents:     Unlimited,
		MaxStrategies: Unlimited,
		Features: []string{
			"Everything in Elite",
			"Lifetime access",
			"White-label option",
			"Source code access",
			"Priority feature requests",
			"Dedicated support",
			"No recurring fees",
			"Future updates included",
		},
		Description: "One-time investment for lifetime access to everything",
	},
	TierEnterprise: {
		Tier:          TierEnterprise,
		Name:          "Enterprise",
		Price:         decimal.Zero,
		PriceCustom:   true,
		AllStrategies: true,
		MaxAgents:     Unlimited,
		MaxStrategies: Unlimited,
		Features: []string{
			"Everything in Lifetime",
			"Multi-user support",
			"Custom deployment",
			"SLA guarantee",
			"Dedicated account manager",
			"Custom integrations",
			"On-premise option",
		},
		Description: "Tailored solutions for institutional traders",
	},
	TierWhiteLabel: {
		Tier:          TierWhiteLabel,
		Name:          "White Label",
		Price:         decimal.Zero,
		PriceCustom:   true,
		AllStrategies: true,
		MaxAgents:     Unlimited,
		MaxStrategies: Unlimited,
		Features: []string{
			"Everything in Enterprise",
			"Full rebrand capability",
			"Source code modification rights",
			"Custom domain",
			"Remove all branding",
			"Reseller license",
		},
		Description: "Complete customization and rebranding rights",
	},
}

// FeaturesOf returns the definition for a tier. Total: unknown tiers
// resolve to the free definition rather than erroring, since tier
// values may come from untrusted decoded payloads.
func FeaturesOf(t Tier) TierDefinition {
	if def, ok := tierCatalog[t]; ok {
		return def
	}
	return tierCatalog[TierFree]
}

// CanAccessStrategy reports whether a tier grants access to the given
// strategy, either explicitly or through the "all" wildcard.
func CanAccessStrategy(t Tier, strategyID string) bool {
	def := FeaturesOf(t)
	if def.AllStrategies {
		return true
	}
	for _, s := range def.Strategies {
		if s == strategyID {
			return true
		}
	}
	return false
}
