package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Key prefixes. Items and clusters share one badger namespace; prefix scans
// drive AllItems/ListClusters.
const (
	itemKeyPrefix    = "item:"
	clusterKeyPrefix = "cluster:"
)

// BadgerStore is the on-disk Store implementation. Values are msgpack so the
// layout stays compact for embedding-heavy items.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a badger-backed store at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is noisy at INFO
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the underlying badger database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func itemKey(id string) []byte    { return []byte(itemKeyPrefix + id) }
func clusterKey(id string) []byte { return []byte(clusterKeyPrefix + id) }

func (b *BadgerStore) GetItem(id string) (Item, error) {
	var item Item
	err := b.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(itemKey(id))
		if err != nil {
			return err
		}
		return entry.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &item)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get item %s: %w", id, err)
	}
	return item, nil
}

func (b *BadgerStore) PutItem(item Item) error {
	data, err := msgpack.Marshal(&item)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", item.ID, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(itemKey(item.ID), data)
	})
}

func (b *BadgerStore) DeleteItem(id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(itemKey(id))
	})
}

func (b *BadgerStore) AllItems() ([]Item, error) {
	return b.scanItems(false)
}

func (b *BadgerStore) AllItemsWithEmbeddings() ([]Item, error) {
	return b.scanItems(true)
}

func (b *BadgerStore) scanItems(embeddedOnly bool) ([]Item, error) {
	var items []Item
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(itemKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var item Item
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &item)
			})
			if err != nil {
				return err
			}
			if embeddedOnly && !item.HasEmbedding() {
				continue
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}
	sortItems(items)
	return items, nil
}

func (b *BadgerStore) ItemCount() (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(itemKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (b *BadgerStore) UpdateEmbedding(id string, embedding []float32) error {
	return b.mutateItem(id, func(item *Item) {
		item.Embedding = append([]float32(nil), embedding...)
	})
}

func (b *BadgerStore) UpdateClusterAssignment(id string, clusterID string) error {
	return b.mutateItem(id, func(item *Item) {
		item.ClusterID = clusterID
	})
}

// mutateItem does a read-modify-write of one item inside a single
// transaction so concurrent embedding and cluster updates never clobber
// each other's fields.
func (b *BadgerStore) mutateItem(id string, mutate func(*Item)) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		entry, err := txn.Get(itemKey(id))
		if err != nil {
			return err
		}
		var item Item
		if err := entry.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &item)
		}); err != nil {
			return err
		}
		mutate(&item)
		data, err := msgpack.Marshal(&item)
		if err != nil {
			return err
		}
		return txn.Set(itemKey(id), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update item %s: %w", id, err)
	}
	return nil
}

func (b *BadgerStore) PutCluster(rec ClusterRecord) error {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode cluster %s: %w", rec.ID, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(clusterKey(rec.ID), data)
	})
}

func (b *BadgerStore) DeleteCluster(id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(clusterKey(id))
	})
}

func (b *BadgerStore) GetCluster(id string) (ClusterRecord, error) {
	var rec ClusterRecord
	err := b.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(clusterKey(id))
		if err != nil {
			return err
		}
		return entry.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ClusterRecord{}, ErrNotFound
	}
	if err != nil {
		return ClusterRecord{}, fmt.Errorf("get cluster %s: %w", id, err)
	}
	return rec, nil
}

func (b *BadgerStore) ListClusters() ([]ClusterRecord, error) {
	var recs []ClusterRecord
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(clusterKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec ClusterRecord
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan clusters: %w", err)
	}
	return recs, nil
}

var _ Store = (*BadgerStore)(nil)
