package commitlog

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/s2"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/burrowdb/burrow/version"
)

// Key layout: /log/ followed by the 8-byte big-endian version key. Keys sort
// in commit order so range
// replays are a single iterator pass.
const pebblePrefixLog = "/log/"

// Decoded entries are cached so repeated advances over the same window skip
// the decompress + decode cost.
const decodeCacheSize = 256

// PebbleStore is the durable commit log. Values are s2-compressed msgpack
// event lists with an xxhash checksum header, verified on read.
type PebbleStore struct {
	db    *pebble.DB
	path  string
	cache *lru.Cache[uint64, *Entry]
}

// OpenPebbleStore opens or creates a pebble-backed commit log at dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open commit log at %s: %w", dir, err)
	}
	cache, err := lru.New[uint64, *Entry](decodeCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Debug().Str("path", dir).Msg("Opened pebble commit log")
	return &PebbleStore{db: db, path: dir, cache: cache}, nil
}

var _ Store = (*PebbleStore)(nil)

func logKey(v version.ID) []byte {
	key := make([]byte, len(pebblePrefixLog)+8)
	copy(key, pebblePrefixLog)
	binary.BigEndian.PutUint64(key[len(pebblePrefixLog):], v.Key())
	return key
}

func encodeEntry(e Entry) ([]byte, error) {
	payload, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode commit log entry: %w", err)
	}
	compressed := s2.Encode(nil, payload)

	value := make([]byte, 8+len(compressed))
	binary.BigEndian.PutUint64(value, xxhash.Sum64(compressed))
	copy(value[8:], compressed)
	return value, nil
}

func decodeEntry(v version.ID, value []byte) (*Entry, error) {
	if len(value) < 8 {
		return nil, ErrCorruptEntry{Version: v}
	}
	compressed := value[8:]
	if binary.BigEndian.Uint64(value) != xxhash.Sum64(compressed) {
		return nil, ErrCorruptEntry{Version: v}
	}
	payload, err := s2.Decode(nil, compressed)
	if err != nil {
		return nil, ErrCorruptEntry{Version: v}
	}
	var e Entry
	if err := msgpack.Unmarshal(payload, &e); err != nil {
		return nil, ErrCorruptEntry{Version: v}
	}
	return &e, nil
}

func (s *PebbleStore) Append(e Entry) error {
	if latest, ok := s.Latest(); ok && !version.After(e.Version, latest) {
		return ErrStaleAppend{Version: e.Version, Latest: latest}
	}
	value, err := encodeEntry(e)
	if err != nil {
		return err
	}
	if err := s.db.Set(logKey(e.Version), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to append commit log entry %s: %w", e.Version, err)
	}
	entry := e
	s.cache.Add(e.Version.Key(), &entry)
	return nil
}

func (s *PebbleStore) Latest() (version.ID, bool) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebblePrefixLog),
		UpperBound: prefixUpperBound([]byte(pebblePrefixLog)),
	})
	if err != nil {
		return version.Zero, false
	}
	defer iter.Close()

	if !iter.Last() {
		return version.Zero, false
	}
	key := iter.Key()
	return version.FromKey(binary.BigEndian.Uint64(key[len(pebblePrefixLog):])), true
}

func (s *PebbleStore) Range(after, upTo version.ID) ([]Entry, error) {
	lower := logKey(after)
	upper := prefixUpperBound([]byte(pebblePrefixLog))
	if !upTo.IsZero() {
		// Exclusive bound immediately after upTo in packed-key order.
		upper = make([]byte, len(pebblePrefixLog)+8)
		copy(upper, pebblePrefixLog)
		binary.BigEndian.PutUint64(upper[len(pebblePrefixLog):], upTo.Key()+1)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate commit log: %w", err)
	}
	defer iter.Close()

	var out []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		v := version.FromKey(binary.BigEndian.Uint64(key[len(pebblePrefixLog):]))
		if !version.After(v, after) {
			continue
		}

		if cached, ok := s.cache.Get(v.Key()); ok {
			out = append(out, *cached)
			continue
		}

		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("failed to read commit log entry %s: %w", v, err)
		}
		entry, err := decodeEntry(v, value)
		if err != nil {
			return nil, err
		}
		s.cache.Add(v.Key(), entry)
		out = append(out, *entry)
	}
	return out, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
