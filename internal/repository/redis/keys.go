package redis

import "fmt"

const ns = "rafflego:v1"

func KeyBoard() string {
	return ns + ":board"
}

func KeyTicketStatus(number string) string {
	return fmt.Sprintf("%s:ticket:%s:status", ns, number)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyWebhookLock(paymentID string) string {
	return fmt.Sprintf("%s:webhook:%s:lock", ns, paymentID)
}

func ChannelTicketsChanged() string {
	return ns + ":tickets:changed"
}
