package consts

// 回合状态机的各个阶段
const (
	StateInitializing       = "initializing"
	StateContextGathering   = "context_gathering"
	StateProactiveRetrieval = "proactive_retrieval"
	StatePlanning           = "planning"
	StateExecutingPlan      = "executing_plan"
	StateDirectAnswer       = "direct_answer"
	StateFinalizing         = "finalizing"
	StateComplete           = "complete"
)

// StateError precedes the failure message in a status marker ("error: ...").
const StateError = "error"

// Built-in tool names.
const (
	ToolGetPrice        = "get_price"
	ToolGetProfile      = "get_profile"
	ToolSearchKnowledge = "search_knowledge"
	ToolGetOwnedShares  = "get_owned_shares"
	ToolBuy             = "buy"
	ToolSell            = "sell"
)
