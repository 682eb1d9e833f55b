package eventbus

// DeliveryStrategy determines behaviour when a subscriber's channel is full.
type DeliveryStrategy string

const (
	// StrategyDropOldest removes the oldest queued event to make room.
	StrategyDropOldest DeliveryStrategy = "drop-oldest"
	// StrategyDropNewest discards the incoming event.
	StrategyDropNewest DeliveryStrategy = "drop-newest"
	// StrategyOverflow queues into a capped spill queue drained in order.
	StrategyOverflow DeliveryStrategy = "overflow"
)

// DeliveryPolicy controls how a topic handles backpressure.
type DeliveryPolicy struct {
	Strategy    DeliveryStrategy
	MaxOverflow int // spill cap for StrategyOverflow (0 = defaultMaxOverflow)
}

const defaultMaxOverflow = 256

var defaultPolicy = DeliveryPolicy{Strategy: StrategyDropOldest}

// Session transitions and notifications must reach the UI; status snapshots
// and validation results are superseded by the next one anyway.
var defaultPolicies = map[Topic]DeliveryPolicy{
	TopicSessionState:      {Strategy: StrategyOverflow, MaxOverflow: defaultMaxOverflow},
	TopicSessionSaved:      {Strategy: StrategyOverflow, MaxOverflow: defaultMaxOverflow},
	TopicNotification:      {Strategy: StrategyOverflow, MaxOverflow: defaultMaxOverflow},
	TopicNavigationChanged: {Strategy: StrategyOverflow, MaxOverflow: defaultMaxOverflow},

	TopicValidationResult: {Strategy: StrategyDropOldest},
	TopicStatusUpdated:    {Strategy: StrategyDropOldest},
}

func policyFor(topic Topic, overrides map[Topic]DeliveryPolicy) DeliveryPolicy {
	if p, ok := overrides[topic]; ok {
		return p
	}
	if p, ok := defaultPolicies[topic]; ok {
		return p
	}
	return defaultPolicy
}
