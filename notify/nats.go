package notify

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/burrowdb/burrow/version"
)

// NatsNotifier carries commit signals across processes over a NATS subject
// derived from the database path. Processes sharing a file subscribe to the
// same subject, so a commit anywhere wakes every coordinator.
type NatsNotifier struct {
	conn *nats.Conn
	sub  *nats.Subscription
	path string
	subj string
}

// Subject returns the NATS subject used for commits to path.
func Subject(path string) string {
	return fmt.Sprintf("burrow.commits.%016x", xxhash.Sum64String(path))
}

// NewNatsNotifier dials url and subscribes to commit signals for path.
// onChange runs on the NATS delivery goroutine.
func NewNatsNotifier(url, path string, onChange func()) (*NatsNotifier, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect commit notifier to %s: %w", url, err)
	}

	subj := Subject(path)
	sub, err := conn.Subscribe(subj, func(m *nats.Msg) {
		var sig CommitSignal
		if err := msgpack.Unmarshal(m.Data, &sig); err != nil {
			log.Warn().Err(err).Str("subject", subj).Msg("Dropping malformed commit signal")
			return
		}
		onChange()
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe commit notifier: %w", err)
	}

	return &NatsNotifier{conn: conn, sub: sub, path: path, subj: subj}, nil
}

// NotifyOthers publishes a commit signal for the notifier's path.
func (n *NatsNotifier) NotifyOthers() {
	payload, err := msgpack.Marshal(CommitSignal{Path: n.path, Version: version.Zero})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode commit signal")
		return
	}
	if err := n.conn.Publish(n.subj, payload); err != nil {
		log.Warn().Err(err).Str("subject", n.subj).Msg("Failed to publish commit signal")
	}
}

// Close tears down the subscription and connection.
func (n *NatsNotifier) Close() error {
	if err := n.sub.Unsubscribe(); err != nil {
		return err
	}
	n.conn.Close()
	return nil
}
