package domain

import "time"

// Agent is the identity and permission holder behind every Task. Agents are
// immutable after creation except through an admin-scoped update.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Scopes    []string  `json:"scopes"`
	Webhook   *string   `json:"webhook,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasScope reports whether the agent carries the given scope string.
func (a *Agent) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
