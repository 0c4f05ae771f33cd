// Package database provides the persisted local state of deploywatch.
//
// The package defines the [Store] interface and its BoltDB implementation.
// All data lives under a single namespace bucket and is stamped with a schema
// version integer so future releases can migrate it.
//
// # Layout
//
//	deploywatch/
//	    meta/         schema_version, current, order
//	    connections/  <connection id> -> Connection JSON, api_token sealed
//	    preferences/  events/<connection>/<team> -> []string JSON
//	                  ack/<flag> -> "1"
//
// API tokens are sealed with XChaCha20-Poly1305 under a key derived from the
// [KeyFileName] file next to the database. Losing that file makes the stored
// tokens unreadable; the connections have to be added again.
//
// # Usage
//
//	db, err := database.Open(filepath.Join(dir, database.FileName))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
// The connection store and the preferences store are the only writers; the
// reconciler never touches this package directly.
package database
