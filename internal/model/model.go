package model

import "fmt"

// PairKey identifies a (connection, team) pair.
type PairKey struct {
	ConnectionID string `json:"connection_id"`
	TeamID       string `json:"team_id"`
}

// NewPairKey builds a PairKey.
func NewPairKey(connectionID, teamID string) PairKey {
	return PairKey{ConnectionID: connectionID, TeamID: teamID}
}

func (k PairKey) String() string {
	return fmt.Sprintf("%s/%s", k.ConnectionID, k.TeamID)
}
