package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sonilabs/soni/internal/state"
)

var sessionsBucket = []byte("sessions")

// Bolt is the durable Store, one JSON document per session in a single
// bbolt file. bbolt gives per-transaction atomicity, which is exactly the
// per-session linearizable save the turn loop needs.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the checkpoint database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: creating bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Load(_ context.Context, sessionID string) (*state.Dialogue, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(sessionsBucket).Get([]byte(sessionID)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: loading session %q: %w", sessionID, err)
	}
	if data == nil {
		return nil, fmt.Errorf("checkpoint: session %q: %w", sessionID, ErrNotFound)
	}
	var d state.Dialogue
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("checkpoint: decoding session %q: %w", sessionID, err)
	}
	return &d, nil
}

func (b *Bolt) Save(_ context.Context, d *state.Dialogue) error {
	if d.SessionID == "" {
		return fmt.Errorf("checkpoint: dialogue has no session id")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("checkpoint: encoding session %q: %w", d.SessionID, err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(d.SessionID), data)
	})
	if err != nil {
		return fmt.Errorf("checkpoint: saving session %q: %w", d.SessionID, err)
	}
	return nil
}

func (b *Bolt) Delete(_ context.Context, sessionID string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(sessionID))
	})
	if err != nil {
		return fmt.Errorf("checkpoint: deleting session %q: %w", sessionID, err)
	}
	return nil
}

func (b *Bolt) Sessions(_ context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing sessions: %w", err)
	}
	return ids, nil
}

func (b *Bolt) Close() error { return b.db.Close() }
