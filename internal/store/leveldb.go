package store

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

var _ Backend = (*LevelDB)(nil)

// LevelDBOptions sizes the LevelDB caches
type LevelDBOptions struct {
	CacheSize              int // MiB
	OpenFilesCacheCapacity int
}

var (
	levelReadOpt  = opt.ReadOptions{}
	levelWriteOpt = opt.WriteOptions{Sync: true}
)

// LevelDB is the embedded on-disk backend
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens the database at path, creating it if missing
func OpenLevelDB(path string, opts LevelDBOptions) (*LevelDB, error) {
	stg, err := storage.OpenFile(path, false)
	if err != nil {
		return nil, errors.Wrap(err, "open leveldb storage")
	}
	return openLevelDB(stg, opts)
}

// NewMemLevelDB creates a LevelDB instance backed by memory
func NewMemLevelDB() (*LevelDB, error) {
	return openLevelDB(storage.NewMemStorage(), LevelDBOptions{})
}

func openLevelDB(stg storage.Storage, opts LevelDBOptions) (*LevelDB, error) {
	if opts.CacheSize < 16 {
		opts.CacheSize = 16
	}
	if opts.OpenFilesCacheCapacity < 16 {
		opts.OpenFilesCacheCapacity = 16
	}

	db, err := leveldb.Open(stg, &opt.Options{
		OpenFilesCacheCapacity: opts.OpenFilesCacheCapacity,
		BlockCacheCapacity:     opts.CacheSize / 2 * opt.MiB,
		WriteBuffer:            opts.CacheSize / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open leveldb")
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key string) ([]byte, error) {
	v, err := l.db.Get([]byte(key), &levelReadOpt)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb get %s", key)
	}
	return v, nil
}

// Commit writes ops as a single leveldb batch
func (l *LevelDB) Commit(ops []Op) error {
	batch := new(leveldb.Batch)
	for _, op := range ops {
		if op.Delete {
			batch.Delete([]byte(op.Key))
		} else {
			batch.Put([]byte(op.Key), op.Value)
		}
	}
	return errors.Wrap(l.db.Write(batch, &levelWriteOpt), "leveldb write batch")
}

func (l *LevelDB) Close() error {
	return errors.Wrap(l.db.Close(), "close leveldb")
}
