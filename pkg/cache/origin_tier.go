package cache

import (
	"context"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// originRecord wraps a value with its absolute expiry; goleveldb has no
// native TTL, so expiry is checked on read and swept lazily on write.
type originRecord struct {
	Value   []byte
	Expires int64 // unix nanos, 0 means no expiry
}

// OriginTier persists the coldest, largest tier to a local goleveldb
// database, standing in for what would otherwise be a trip to the true
// origin server.
type OriginTier struct {
	db *leveldb.DB
}

// NewOriginTier opens (or creates) a goleveldb database at path.
func NewOriginTier(path string) (*OriginTier, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &OriginTier{db: db}, nil
}

func (t *OriginTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := t.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, err := decodeOriginRecord(raw)
	if err != nil {
		return nil, false, err
	}
	if rec.Expires != 0 && time.Now().UnixNano() > rec.Expires {
		_ = t.db.Delete([]byte(key), nil)
		return nil, false, nil
	}
	return rec.Value, true, nil
}

func (t *OriginTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = time.Now().Add(ttl).UnixNano()
	}
	raw, err := encodeOriginRecord(originRecord{Value: value, Expires: expires})
	if err != nil {
		return err
	}
	return t.db.Put([]byte(key), raw, nil)
}

func (t *OriginTier) Del(_ context.Context, key string) error {
	return t.db.Delete([]byte(key), nil)
}

func (t *OriginTier) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	iter := t.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var out []string
	for iter.Next() {
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

func (t *OriginTier) Flush(_ context.Context) error {
	iter := t.db.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return t.db.Write(batch, nil)
}

// Close releases the underlying goleveldb handle.
func (t *OriginTier) Close() error { return t.db.Close() }

func encodeOriginRecord(r originRecord) ([]byte, error) { return json.Marshal(r) }

func decodeOriginRecord(raw []byte) (originRecord, error) {
	var r originRecord
	err := json.Unmarshal(raw, &r)
	return r, err
}
