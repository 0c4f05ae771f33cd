package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/inovacc/deploywatch/internal/application"
	"github.com/inovacc/deploywatch/internal/model"
	"go.etcd.io/bbolt"
)

const (
	boltBucketMeta        = "meta"        // schema_version, current, order
	boltBucketConnections = "connections" // key: connection id -> Connection JSON
	boltBucketPreferences = "preferences" // key: events/<conn>/<team> | ack/<flag>

	metaKeySchemaVersion = "schema_version"
	metaKeyCurrent       = "current"
	metaKeyOrder         = "order"

	prefixEvents = "events/"
	prefixAck    = "ack/"
)

// migration upgrades the namespace bucket from version n to n+1.
type migration func(ns *bbolt.Bucket, s *sealer) error

// migrations is indexed by the version being migrated from.
var migrations = map[int]migration{
	0: func(ns *bbolt.Bucket, _ *sealer) error {
		for _, name := range []string{boltBucketMeta, boltBucketConnections, boltBucketPreferences} {
			if _, err := ns.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}

		return nil
	},
	// 1 -> 2: API tokens are sealed at rest
	1: func(ns *bbolt.Bucket, s *sealer) error {
		conns := ns.Bucket([]byte(boltBucketConnections))

		updates := make(map[string][]byte)

		err := conns.ForEach(func(k, v []byte) error {
			var c model.Connection
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}

			if c.APIToken == "" || sealed(c.APIToken) {
				return nil
			}

			token, err := s.seal(c.ID, c.APIToken)
			if err != nil {
				return err
			}

			c.APIToken = token

			data, err := json.Marshal(c)
			if err != nil {
				return err
			}

			updates[string(k)] = data

			return nil
		})
		if err != nil {
			return err
		}

		for k, data := range updates {
			if err := conns.Put([]byte(k), data); err != nil {
				return err
			}
		}

		return nil
	},
}

// Bolt is the BoltDB backed Store.
type Bolt struct {
	db     *bbolt.DB
	sealer *sealer
}

var _ Store = (*Bolt)(nil)

// Open opens (or creates) the database at path and migrates it to the current schema.
func Open(path string) (*Bolt, error) {
	return NewBolt(path)
}

// NewBolt opens the database at path. API tokens are sealed with the key in
// KeyFileName next to it, which is created when missing.
func NewBolt(path string) (*Bolt, error) {
	s, err := loadSealer(filepath.Join(filepath.Dir(path), KeyFileName))
	if err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bbolt.Tx) error { return migrate(tx, s) }); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Bolt{db: db, sealer: s}, nil
}

func migrate(tx *bbolt.Tx, s *sealer) error {
	ns, err := tx.CreateBucketIfNotExists([]byte(application.Namespace))
	if err != nil {
		return err
	}

	version := 0

	if meta := ns.Bucket([]byte(boltBucketMeta)); meta != nil {
		if v := meta.Get([]byte(metaKeySchemaVersion)); v != nil {
			version, err = strconv.Atoi(string(v))
			if err != nil {
				return fmt.Errorf("invalid schema version %q: %w", v, err)
			}
		}
	}

	if version > application.SchemaVersion {
		return fmt.Errorf("%w: found %d, supported %d", ErrSchemaTooNew, version, application.SchemaVersion)
	}

	for ; version < application.SchemaVersion; version++ {
		m, ok := migrations[version]
		if !ok {
			return fmt.Errorf("no migration from schema version %d", version)
		}

		if err := m(ns, s); err != nil {
			return fmt.Errorf("failed to migrate from schema version %d: %w", version, err)
		}
	}

	meta := ns.Bucket([]byte(boltBucketMeta))

	return meta.Put([]byte(metaKeySchemaVersion), []byte(strconv.Itoa(version)))
}

func bucket(tx *bbolt.Tx, name string) *bbolt.Bucket {
	return tx.Bucket([]byte(application.Namespace)).Bucket([]byte(name))
}

func (b *Bolt) Ping() error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return nil
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) SchemaVersion() (int, error) {
	var version int

	err := b.db.View(func(tx *bbolt.Tx) error {
		v := bucket(tx, boltBucketMeta).Get([]byte(metaKeySchemaVersion))

		var err error

		version, err = strconv.Atoi(string(v))

		return err
	})

	return version, err
}

func readOrder(meta *bbolt.Bucket) ([]string, error) {
	v := meta.Get([]byte(metaKeyOrder))
	if v == nil {
		return nil, nil
	}

	var order []string
	if err := json.Unmarshal(v, &order); err != nil {
		return nil, err
	}

	return order, nil
}

func writeOrder(meta *bbolt.Bucket, order []string) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}

	return meta.Put([]byte(metaKeyOrder), data)
}

func (b *Bolt) SaveConnection(conn *model.Connection) error {
	if conn == nil || conn.ID == "" {
		return ErrInvalidConnection
	}

	stored := *conn

	token, err := b.sealer.seal(conn.ID, conn.APIToken)
	if err != nil {
		return err
	}

	stored.APIToken = token

	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		var (
			conns = bucket(tx, boltBucketConnections)
			meta  = bucket(tx, boltBucketMeta)
		)

		if err := conns.Put([]byte(conn.ID), data); err != nil {
			return err
		}

		order, err := readOrder(meta)
		if err != nil {
			return err
		}

		if slices.Contains(order, conn.ID) {
			return nil
		}

		return writeOrder(meta, append(order, conn.ID))
	})
}

func (b *Bolt) DeleteConnection(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var (
			conns = bucket(tx, boltBucketConnections)
			meta  = bucket(tx, boltBucketMeta)
			prefs = bucket(tx, boltBucketPreferences)
		)

		if conns.Get([]byte(id)) == nil {
			return nil
		}

		if err := conns.Delete([]byte(id)); err != nil {
			return err
		}

		order, err := readOrder(meta)
		if err != nil {
			return err
		}

		order = slices.DeleteFunc(order, func(s string) bool { return s == id })
		if err := writeOrder(meta, order); err != nil {
			return err
		}

		if string(meta.Get([]byte(metaKeyCurrent))) == id {
			if err := meta.Delete([]byte(metaKeyCurrent)); err != nil {
				return err
			}
		}

		// Drop the per-team preferences of the removed connection
		prefix := []byte(prefixEvents + id + "/")
		c := prefs.Cursor()

		var stale [][]byte

		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			stale = append(stale, slices.Clone(k))
		}

		for _, k := range stale {
			if err := prefs.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
}

func (b *Bolt) ListConnections() ([]model.Connection, error) {
	var out []model.Connection

	err := b.db.View(func(tx *bbolt.Tx) error {
		var (
			conns = bucket(tx, boltBucketConnections)
			meta  = bucket(tx, boltBucketMeta)
		)

		order, err := readOrder(meta)
		if err != nil {
			return err
		}

		for _, id := range order {
			v := conns.Get([]byte(id))
			if v == nil {
				continue
			}

			var c model.Connection
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}

			token, err := b.sealer.open(c.ID, c.APIToken)
			if err != nil {
				return err
			}

			c.APIToken = token
			out = append(out, c)
		}

		return nil
	})

	return out, err
}

func (b *Bolt) GetCurrentConnection() (string, error) {
	var id string

	err := b.db.View(func(tx *bbolt.Tx) error {
		id = string(bucket(tx, boltBucketMeta).Get([]byte(metaKeyCurrent)))

		return nil
	})

	return id, err
}

func (b *Bolt) SetCurrentConnection(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		meta := bucket(tx, boltBucketMeta)

		if id == "" {
			return meta.Delete([]byte(metaKeyCurrent))
		}

		return meta.Put([]byte(metaKeyCurrent), []byte(id))
	})
}

func eventsKey(key model.PairKey) []byte {
	return []byte(prefixEvents + key.ConnectionID + "/" + key.TeamID)
}

func (b *Bolt) GetEnabledEvents(key model.PairKey) ([]string, error) {
	var events []string

	err := b.db.View(func(tx *bbolt.Tx) error {
		v := bucket(tx, boltBucketPreferences).Get(eventsKey(key))
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &events)
	})

	return events, err
}

func (b *Bolt) SaveEnabledEvents(key model.PairKey, events []string) error {
	data, err := json.Marshal(model.NormalizeEvents(events))
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		prefs := bucket(tx, boltBucketPreferences)

		if len(events) == 0 {
			return prefs.Delete(eventsKey(key))
		}

		return prefs.Put(eventsKey(key), data)
	})
}

func (b *Bolt) GetFlag(name string) (bool, error) {
	var set bool

	err := b.db.View(func(tx *bbolt.Tx) error {
		set = bucket(tx, boltBucketPreferences).Get([]byte(prefixAck+name)) != nil

		return nil
	})

	return set, err
}

func (b *Bolt) SetFlag(name string, value bool) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		prefs := bucket(tx, boltBucketPreferences)

		if !value {
			return prefs.Delete([]byte(prefixAck + name))
		}

		return prefs.Put([]byte(prefixAck+name), []byte("1"))
	})
}
