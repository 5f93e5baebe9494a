package eventbus

import "time"

// Topics published by the mock backend.
const (
	TopicStoreChanged = "store:changed"
	TopicStoreReset   = "store:reset"

	TopicAuthLogin   = "auth:login"
	TopicAuthRefresh = "auth:refresh"
	TopicAuthLogout  = "auth:logout"
	TopicAuthSwitch  = "auth:switch"

	TopicChaosUpdated  = "chaos:updated"
	TopicChaosInjected = "chaos:injected"

	TopicConfigReloaded = "config:reloaded"
)

// Topics lists every topic, in the order above.
var Topics = []string{
	TopicStoreChanged,
	TopicStoreReset,
	TopicAuthLogin,
	TopicAuthRefresh,
	TopicAuthLogout,
	TopicAuthSwitch,
	TopicChaosUpdated,
	TopicChaosInjected,
	TopicConfigReloaded,
}

// Event is the single payload type carried on the bus.
type Event struct {
	Topic string    `json:"topic"`
	At    time.Time `json:"at"`
	Data  any       `json:"data,omitempty"`
}

// StoreEventData describes a document store mutation.
type StoreEventData struct {
	Collection string `json:"collection"`
	Action     string `json:"action"` // add, update, remove
	ID         string `json:"id"`
}

// AuthEventData describes a token lifecycle transition.
type AuthEventData struct {
	Subject string `json:"subject,omitempty"`
	Role    string `json:"role,omitempty"`
}

// ChaosEventData describes an injected failure.
type ChaosEventData struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Status int    `json:"status"`
}
