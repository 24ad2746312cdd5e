package consts

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

const (
	OutputTypePlan  = "plan"
	OutputTypeFinal = "final"
)

const (
	IntentInfo = "INFO"
)

// StatusPrefix marks an increment as progress information rather than answer content.
const StatusPrefix = "STATUS:"

const (
	DefaultRiskProfile    = "moderate"
	DefaultInvestmentGoal = "long-term growth"
	DefaultPortfolioValue = 10000
)

// Version is reported by the CLI and the SDK's system.info.
const Version = "v0.3.0"
