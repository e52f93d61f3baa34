// Package notify pushes state-change events to per-user channels.
// Delivery is fire-and-forget: publishing never fails the operation that
// produced the event.
package notify

// Publisher delivers an event snapshot to a user's channel.
type Publisher interface {
	Publish(userID, event string, payload any)
}

// UserChannel is the channel naming convention shared with the frontend.
func UserChannel(userID string) string {
	return "user_" + userID
}

// Nop discards all events. Used when no sink is configured and in tests.
type Nop struct{}

func (Nop) Publish(string, string, any) {}
