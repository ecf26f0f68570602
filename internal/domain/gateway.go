package domain

// Broadcaster delivers server events to live connections. The gateway hub
// implements it; sends never block the caller.
type Broadcaster interface {
	// Send delivers an event to a single connection.
	Send(connID, event string, payload any)

	// Broadcast delivers an event to every listed member except the one
	// whose id equals except (pass "" to include everyone).
	Broadcast(members []Member, event string, payload any, except string)
}
