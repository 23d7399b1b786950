package room

import (
	"net/url"

	"github.com/google/uuid"
)

// RouteDashboard is where players land after leaving or being removed
const RouteDashboard = "/dashboard"

// Navigation reasons
const (
	ReasonStarted   = "started"
	ReasonCountdown = "countdown"
	ReasonFinished  = "finished"
	ReasonKicked    = "kicked"
	ReasonLeft      = "left"
	ReasonNotFound  = "not_found"
)

// PlayRoute is the play screen for a session
func PlayRoute(sessionID uuid.UUID) string {
	return "/play/" + sessionID.String()
}

// ResultsRoute is the results screen for a session
func ResultsRoute(sessionID uuid.UUID) string {
	return "/results/" + sessionID.String()
}

// Navigation tells the client where to go when it leaves the waiting room
type Navigation struct {
	Route  string     `json:"route"`
	Reason string     `json:"reason"`
	Query  url.Values `json:"query,omitempty"`
}

// URL renders the route with its query string
func (n Navigation) URL() string {
	if len(n.Query) == 0 {
		return n.Route
	}
	return n.Route + "?" + n.Query.Encode()
}
