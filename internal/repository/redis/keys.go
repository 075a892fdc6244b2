package redis

import "fmt"

const ns = "evreg:v1"

func KeyEventSummary(eventID string) string {
	return fmt.Sprintf("%s:event:%s:summary", ns, eventID)
}

func KeyEventAvailability(eventID string) string {
	return fmt.Sprintf("%s:event:%s:availability", ns, eventID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelEventsChanged() string {
	return ns + ":events:changed"
}
