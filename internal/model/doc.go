// Package model defines the data structures used throughout deploywatch.
//
// These models are shared by the persistence layer, the remote API gateway and
// the webhook reconciler.
//
// # Connection
//
// A [Connection] is one authenticated account on the hosting provider:
//
//	type Connection struct {
//	    ID            string // Provider user id, unique in the store
//	    APIToken      string // Bearer credential
//	    CurrentTeamID string // Team selected for this connection, may be empty
//	}
//
// # Team
//
// A [Team] is a billing scope inside a connection. Only teams on the pro and
// enterprise plans are eligible for push notifications, see [Team.PushEligible].
//
// # Webhook
//
// A [Webhook] is the provider-side registration that routes events for a team
// to a push token. The reconciler keeps at most one per [PairKey].
//
// # Config
//
// The [Config] struct holds application configuration loaded from config.ini.
package model
