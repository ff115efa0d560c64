package bus

// Well-known topics shared by the pipeline stages.
const (
	// TopicTicks carries normalized market data updates.
	TopicTicks Topic = "ticks"
	// TopicOrders carries order lifecycle updates.
	TopicOrders Topic = "orders"
	// TopicTrades carries execution results.
	TopicTrades Topic = "trades"
	// TopicNotices carries client-facing terminal notifications.
	TopicNotices Topic = "notices"
)
