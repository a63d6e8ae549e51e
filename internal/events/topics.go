package events

// Topic constants for domain events emitted by the checkout core.
const (
	TopicOrderCreated           = "order.created"
	TopicDeliveryDispatchFailed = "delivery.dispatch_failed"
	TopicRedemptionFailed       = "promo.redemption_failed"
)

// AlertTopics returns the topics routed to the operational alert channel.
func AlertTopics() []string {
	return []string{
		TopicDeliveryDispatchFailed,
		TopicRedemptionFailed,
	}
}
