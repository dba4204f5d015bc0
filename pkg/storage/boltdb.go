package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/wipac/ltacoord/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRequests      = []byte("TransferRequests")
	bucketBundles       = []byte("Bundles")
	bucketBundlesIndex  = []byte("BundlesIndex")
	bucketRequestsIndex = []byte("TransferRequestsIndex")
	bucketMetadata      = []byte("Metadata")
	bucketMetadataByBdl = []byte("MetadataByBundle")
	bucketHeartbeats    = []byte("Status")
)

// BoltStore implements Store using a single BoltDB file, one bucket per
// collection plus an ordering index bucket per claimable collection so POP
// can seek the oldest unclaimed candidate instead of scanning the whole
// bucket (spec.md §6's required `(status, claimed, work_priority_timestamp)`
// index, realized as bbolt's own key ordering).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the coordinator's database
// file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "lta.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketRequests, bucketRequestsIndex,
			bucketBundles, bucketBundlesIndex,
			bucketMetadata, bucketMetadataByBdl,
			bucketHeartbeats,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// indexKey orders candidates by status, then claimed (false before true),
// then work_priority_timestamp, then uuid — a POP scan seeks the prefix
// "status\x00false\x00" and takes the first entry, which is exactly the
// oldest-priority unclaimed match (spec.md §4.1 tie-break).
func indexKey(status string, claimed bool, priority time.Time, uuid string) []byte {
	return []byte(fmt.Sprintf("%s\x00%t\x00%020d\x00%s", status, claimed, priority.UnixNano(), uuid))
}

func indexPrefix(status string) []byte {
	return []byte(fmt.Sprintf("%s\x00false\x00", status))
}

// --- TransferRequests ---

func (s *BoltStore) putRequestTx(tx *bolt.Tx, r *types.TransferRequest) error {
	b := tx.Bucket(bucketRequests)
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := b.Put([]byte(r.UUID), data); err != nil {
		return err
	}
	idx := tx.Bucket(bucketRequestsIndex)
	return idx.Put(indexKey(string(r.Status), r.Claimed, r.WorkPriorityTimestamp, r.UUID), []byte(r.UUID))
}

func (s *BoltStore) CreateRequest(r *types.TransferRequest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.putRequestTx(tx, r)
	})
}

func (s *BoltStore) GetRequest(uuid string) (*types.TransferRequest, error) {
	var r types.TransferRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRequests).Get([]byte(uuid))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) ListRequests(f RequestFilter) ([]*types.TransferRequest, error) {
	var out []*types.TransferRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
			var r types.TransferRequest
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if requestMatches(&r, f) {
				out = append(out, &r)
			}
			return nil
		})
	})
	return out, err
}

func requestMatches(r *types.TransferRequest, f RequestFilter) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	if f.Dest != "" && r.Dest != f.Dest {
		return false
	}
	return true
}

func (s *BoltStore) UpdateRequest(r *types.TransferRequest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deleteRequestIndexTx(tx, r.UUID); err != nil {
			return err
		}
		return s.putRequestTx(tx, r)
	})
}

func deleteRequestIndexTx(tx *bolt.Tx, uuid string) error {
	b := tx.Bucket(bucketRequests)
	data := b.Get([]byte(uuid))
	if data == nil {
		return nil
	}
	var old types.TransferRequest
	if err := json.Unmarshal(data, &old); err != nil {
		return err
	}
	idx := tx.Bucket(bucketRequestsIndex)
	return idx.Delete(indexKey(string(old.Status), old.Claimed, old.WorkPriorityTimestamp, old.UUID))
}

func (s *BoltStore) DeleteRequest(uuid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deleteRequestIndexTx(tx, uuid); err != nil {
			return err
		}
		return tx.Bucket(bucketRequests).Delete([]byte(uuid))
	})
}

// PopRequest is the atomic claim-one primitive for TransferRequests. The
// whole scan-then-mutate happens inside a single bolt write transaction, so
// there is no read-then-write race window (spec.md §9 design note).
func (s *BoltStore) PopRequest(f RequestFilter, claimant string) (*types.TransferRequest, error) {
	var claimed *types.TransferRequest
	err := s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketRequestsIndex)
		c := idx.Cursor()
		prefix := indexPrefix(string(f.Status))
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			uuid := string(v)
			data := tx.Bucket(bucketRequests).Get([]byte(uuid))
			if data == nil {
				continue
			}
			var r types.TransferRequest
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			if r.Claimed {
				continue
			}
			if f.Source != "" && r.Source != f.Source {
				continue
			}
			if f.Dest != "" && r.Dest != f.Dest {
				continue
			}
			now := time.Now().UTC()
			if err := idx.Delete(indexKey(string(r.Status), r.Claimed, r.WorkPriorityTimestamp, r.UUID)); err != nil {
				return err
			}
			r.Claimed = true
			r.Claimant = claimant
			r.ClaimTimestamp = &now
			r.UpdateTimestamp = now
			if err := s.putRequestTx(tx, &r); err != nil {
				return err
			}
			claimed = &r
			return nil
		}
		return nil
	})
	return claimed, err
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// --- Bundles ---

func (s *BoltStore) putBundleTx(tx *bolt.Tx, bd *types.Bundle) error {
	b := tx.Bucket(bucketBundles)
	data, err := json.Marshal(bd)
	if err != nil {
		return err
	}
	if err := b.Put([]byte(bd.UUID), data); err != nil {
		return err
	}
	idx := tx.Bucket(bucketBundlesIndex)
	return idx.Put(indexKey(string(bd.Status), bd.Claimed, bd.WorkPriorityTimestamp, bd.UUID), []byte(bd.UUID))
}

func (s *BoltStore) CreateBundle(bd *types.Bundle) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.putBundleTx(tx, bd)
	})
}

func (s *BoltStore) CreateBundles(bs []*types.Bundle) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bd := range bs {
			if err := s.putBundleTx(tx, bd); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetBundle(uuid string) (*types.Bundle, error) {
	var bd types.Bundle
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBundles).Get([]byte(uuid))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &bd)
	})
	if err != nil {
		return nil, err
	}
	return &bd, nil
}

func bundleMatches(bd *types.Bundle, f BundleFilter) bool {
	if f.Status != "" && bd.Status != f.Status {
		return false
	}
	if f.Source != "" && bd.Source != f.Source {
		return false
	}
	if f.Dest != "" && bd.Dest != f.Dest {
		return false
	}
	if f.Verified != nil && bd.Verified != *f.Verified {
		return false
	}
	return true
}

func (s *BoltStore) ListBundles(f BundleFilter) ([]*types.Bundle, error) {
	var out []*types.Bundle
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBundles).ForEach(func(k, v []byte) error {
			var bd types.Bundle
			if err := json.Unmarshal(v, &bd); err != nil {
				return err
			}
			if bundleMatches(&bd, f) {
				out = append(out, &bd)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListBundlesByRequest(requestUUID string) ([]*types.Bundle, error) {
	var out []*types.Bundle
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBundles).ForEach(func(k, v []byte) error {
			var bd types.Bundle
			if err := json.Unmarshal(v, &bd); err != nil {
				return err
			}
			if bd.Request == requestUUID {
				out = append(out, &bd)
			}
			return nil
		})
	})
	return out, err
}

func deleteBundleIndexTx(tx *bolt.Tx, uuid string) error {
	b := tx.Bucket(bucketBundles)
	data := b.Get([]byte(uuid))
	if data == nil {
		return nil
	}
	var old types.Bundle
	if err := json.Unmarshal(data, &old); err != nil {
		return err
	}
	idx := tx.Bucket(bucketBundlesIndex)
	return idx.Delete(indexKey(string(old.Status), old.Claimed, old.WorkPriorityTimestamp, old.UUID))
}

func (s *BoltStore) UpdateBundle(bd *types.Bundle) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deleteBundleIndexTx(tx, bd.UUID); err != nil {
			return err
		}
		return s.putBundleTx(tx, bd)
	})
}

func (s *BoltStore) DeleteBundle(uuid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deleteBundleIndexTx(tx, uuid); err != nil {
			return err
		}
		return tx.Bucket(bucketBundles).Delete([]byte(uuid))
	})
}

// PopBundle is the atomic claim-one primitive for Bundles — the critical
// systems primitive described in spec.md §4.1 and §9.
func (s *BoltStore) PopBundle(f BundleFilter, claimant string) (*types.Bundle, error) {
	var claimed *types.Bundle
	err := s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketBundlesIndex)
		c := idx.Cursor()
		prefix := indexPrefix(string(f.Status))
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			uuid := string(v)
			data := tx.Bucket(bucketBundles).Get([]byte(uuid))
			if data == nil {
				continue
			}
			var bd types.Bundle
			if err := json.Unmarshal(data, &bd); err != nil {
				return err
			}
			if bd.Claimed {
				continue
			}
			if f.Source != "" && bd.Source != f.Source {
				continue
			}
			if f.Dest != "" && bd.Dest != f.Dest {
				continue
			}
			if f.Verified != nil && bd.Verified != *f.Verified {
				continue
			}
			now := time.Now().UTC()
			if err := idx.Delete(indexKey(string(bd.Status), bd.Claimed, bd.WorkPriorityTimestamp, bd.UUID)); err != nil {
				return err
			}
			bd.Claimed = true
			bd.Claimant = claimant
			bd.ClaimTimestamp = &now
			bd.UpdateTimestamp = now
			if err := s.putBundleTx(tx, &bd); err != nil {
				return err
			}
			claimed = &bd
			return nil
		}
		return nil
	})
	return claimed, err
}

// ReapStaleClaims releases claims held longer than maxAge. Idempotent and
// safe to race with a worker's own PATCH: a reaped claim simply becomes
// available again, and the original worker's PATCH will be rejected by the
// claimant-fencing check in pkg/coordinator if a new claimant already took it.
func (s *BoltStore) ReapStaleClaims(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	released := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBundles)
		var stale []types.Bundle
		if err := b.ForEach(func(k, v []byte) error {
			var bd types.Bundle
			if err := json.Unmarshal(v, &bd); err != nil {
				return err
			}
			if bd.Claimed && bd.ClaimTimestamp != nil && bd.ClaimTimestamp.Before(cutoff) {
				stale = append(stale, bd)
			}
			return nil
		}); err != nil {
			return err
		}
		for i := range stale {
			bd := stale[i]
			if err := deleteBundleIndexTx(tx, bd.UUID); err != nil {
				return err
			}
			bd.Claimed = false
			bd.Claimant = ""
			bd.ClaimTimestamp = nil
			bd.UpdateTimestamp = time.Now().UTC()
			if err := s.putBundleTx(tx, &bd); err != nil {
				return err
			}
			released++
		}

		rb := tx.Bucket(bucketRequests)
		var staleReqs []types.TransferRequest
		if err := rb.ForEach(func(k, v []byte) error {
			var r types.TransferRequest
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Claimed && r.ClaimTimestamp != nil && r.ClaimTimestamp.Before(cutoff) {
				staleReqs = append(staleReqs, r)
			}
			return nil
		}); err != nil {
			return err
		}
		for i := range staleReqs {
			r := staleReqs[i]
			if err := deleteRequestIndexTx(tx, r.UUID); err != nil {
				return err
			}
			r.Claimed = false
			r.Claimant = ""
			r.ClaimTimestamp = nil
			r.UpdateTimestamp = time.Now().UTC()
			if err := s.putRequestTx(tx, &r); err != nil {
				return err
			}
			released++
		}
		return nil
	})

	return released, err
}

// --- Metadata ---

func (s *BoltStore) CreateMetadata(ms []*types.Metadata) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		byBundle := tx.Bucket(bucketMetadataByBdl)
		for _, m := range ms {
			data, err := json.Marshal(m)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(m.UUID), data); err != nil {
				return err
			}
			if err := byBundle.Put([]byte(m.Bundle+"\x00"+m.UUID), []byte(m.UUID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListMetadataByBundle(bundleUUID string) ([]*types.Metadata, error) {
	var out []*types.Metadata
	err := s.db.View(func(tx *bolt.Tx) error {
		byBundle := tx.Bucket(bucketMetadataByBdl)
		b := tx.Bucket(bucketMetadata)
		c := byBundle.Cursor()
		prefix := []byte(bundleUUID + "\x00")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := b.Get(v)
			if data == nil {
				continue
			}
			var m types.Metadata
			if err := json.Unmarshal(data, &m); err != nil {
				return err
			}
			out = append(out, &m)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) DeleteMetadataByBundle(bundleUUID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		byBundle := tx.Bucket(bucketMetadataByBdl)
		b := tx.Bucket(bucketMetadata)
		c := byBundle.Cursor()
		prefix := []byte(bundleUUID + "\x00")
		var keys [][]byte
		var metaUUIDs [][]byte
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
			metaUUIDs = append(metaUUIDs, append([]byte(nil), v...))
		}
		for i, k := range keys {
			if err := byBundle.Delete(k); err != nil {
				return err
			}
			if err := b.Delete(metaUUIDs[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Heartbeats ---

func (s *BoltStore) UpsertHeartbeat(h *types.Heartbeat) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(h)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHeartbeats).Put([]byte(h.Key()), data)
	})
}

func (s *BoltStore) GetHeartbeat(componentType, componentName string) (*types.Heartbeat, error) {
	var h types.Heartbeat
	key := componentType + "/" + componentName
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHeartbeats).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &h)
	})
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *BoltStore) ListHeartbeats(componentType string) ([]*types.Heartbeat, error) {
	var out []*types.Heartbeat
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeartbeats).ForEach(func(k, v []byte) error {
			var h types.Heartbeat
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if componentType == "" || h.ComponentType == componentType {
				out = append(out, &h)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteHeartbeatsOlderThan(age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age)
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHeartbeats)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var h types.Heartbeat
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if h.Timestamp.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
