package model

import "time"

// Connection represents one authenticated account on the hosting provider
type Connection struct {
	// ID is the provider user id and the unique key in the connection store
	ID string `json:"id"`

	// APIToken is the bearer credential used for outbound requests
	APIToken string `json:"api_token"`

	// CurrentTeamID is the team currently selected for this connection
	CurrentTeamID string `json:"current_team_id,omitempty"`

	// Username is the display name reported by the provider at login
	Username string `json:"username,omitempty"`

	// CreatedAt is when the connection was registered
	CreatedAt time.Time `json:"created_at"`
}

// HasToken reports whether the connection can be used for network operations.
func (c Connection) HasToken() bool {
	return c.APIToken != ""
}

// Plan is the billing plan of a team
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Billing holds the billing details of a team
type Billing struct {
	Plan Plan `json:"plan"`
}

// Team is a billing and organizational scope inside a connection.
// Teams are discovered from the API each session and never persisted.
type Team struct {
	ID      string  `json:"id"`
	Slug    string  `json:"slug"`
	Name    string  `json:"name"`
	Billing Billing `json:"billing"`
}

// PushEligible reports whether the team's plan allows push notifications.
func (t Team) PushEligible() bool {
	switch t.Billing.Plan {
	case PlanPro, PlanEnterprise:
		return true
	default:
		return false
	}
}

// Project is a deployable project owned by a team
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Framework string `json:"framework,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}
