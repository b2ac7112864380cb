package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/jsonx"
)

var (
	bFragments    = []byte("fragments")
	bEmbeddings   = []byte("fragment_embeddings")
	bEdges        = []byte("edges")
	bReflections  = []byte("reflections")
	bFragOwnerIdx = []byte("idx_fragments_owner")
	bEdgeOwnerIdx = []byte("idx_edges_owner")
	bEdgeTgtIdx   = []byte("idx_edges_target")
	bEdgeSrcIdx   = []byte("idx_edges_source")
	bEdgePairIdx  = []byte("idx_edges_pair")
	bReflOwnerIdx = []byte("idx_reflections_owner")
)

// Bolt is the bbolt-backed Store. Every method runs inside a single
// transaction, matching the engine's read-then-write-per-call model.
type Bolt struct {
	db     *bolt.DB
	logger *zap.Logger
}

// OpenBolt opens (or creates) the database file and ensures all buckets.
func OpenBolt(path string, logger *zap.Logger) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bFragments, bEmbeddings, bEdges, bReflections,
			bFragOwnerIdx, bEdgeOwnerIdx, bEdgeTgtIdx, bEdgeSrcIdx,
			bEdgePairIdx, bReflOwnerIdx,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Bolt{db: db, logger: logger.Named("boltstore")}, nil
}

// Close releases the underlying database file.
func (s *Bolt) Close() error {
	return s.db.Close()
}

// Index keys are ownerID(16) | unixNano(8, big endian) | recordID(16) so a
// prefix cursor walks one owner's records in creation order.
func timeKey(owner uuid.UUID, at time.Time, id uuid.UUID) []byte {
	key := make([]byte, 0, 40)
	key = append(key, owner[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixNano()))
	key = append(key, ts[:]...)
	return append(key, id[:]...)
}

func pairKey(a, b, id uuid.UUID) []byte {
	key := make([]byte, 0, 48)
	key = append(key, a[:]...)
	key = append(key, b[:]...)
	return append(key, id[:]...)
}

func refKey(ref, id uuid.UUID) []byte {
	key := make([]byte, 0, 32)
	key = append(key, ref[:]...)
	return append(key, id[:]...)
}

func (s *Bolt) PutFragment(_ context.Context, f *graph.Fragment) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := jsonx.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to encode fragment: %w", err)
		}
		if err := tx.Bucket(bFragments).Put(f.ID[:], data); err != nil {
			return err
		}
		if f.HasEmbedding() {
			if err := tx.Bucket(bEmbeddings).Put(f.ID[:], graph.EncodeEmbedding(f.Embedding)); err != nil {
				return err
			}
		}
		return tx.Bucket(bFragOwnerIdx).Put(timeKey(f.OwnerID, f.CreatedAt, f.ID), f.ID[:])
	})
}

func (s *Bolt) GetFragment(_ context.Context, id uuid.UUID) (*graph.Fragment, error) {
	var f *graph.Fragment
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		f, err = loadFragment(tx, id[:])
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func loadFragment(tx *bolt.Tx, id []byte) (*graph.Fragment, error) {
	data := tx.Bucket(bFragments).Get(id)
	if data == nil {
		return nil, ErrNotFound
	}
	var f graph.Fragment
	if err := jsonx.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode fragment: %w", err)
	}
	f.Embedding = graph.DecodeEmbedding(tx.Bucket(bEmbeddings).Get(id))
	return &f, nil
}

func (s *Bolt) ListFragments(_ context.Context, q FragmentQuery) ([]*graph.Fragment, error) {
	sessionSet := make(map[uuid.UUID]bool, len(q.SessionIDs))
	for _, id := range q.SessionIDs {
		sessionSet[id] = true
	}

	var out []*graph.Fragment
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bFragOwnerIdx).Cursor()
		prefix := q.OwnerID[:]
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			f, err := loadFragment(tx, v)
			if err != nil {
				return err
			}
			if len(sessionSet) > 0 && !sessionSet[f.SessionID] {
				continue
			}
			if q.Processed != nil && f.Processed != *q.Processed {
				continue
			}
			if q.HasEmbedding != nil && f.HasEmbedding() != *q.HasEmbedding {
				continue
			}
			if q.CreatedBefore != nil && !f.CreatedAt.Before(*q.CreatedBefore) {
				continue
			}
			if q.CreatedAfter != nil && !f.CreatedAt.After(*q.CreatedAfter) {
				continue
			}
			out = append(out, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Cursor order is oldest first already; flip when newest first is asked.
	if !q.OldestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Bolt) RecentSessions(_ context.Context, ownerID uuid.UUID, after time.Time, max int) ([]uuid.UUID, error) {
	latest := make(map[uuid.UUID]time.Time)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bFragOwnerIdx).Cursor()
		prefix := ownerID[:]
		start := timeKey(ownerID, after, uuid.Nil)
		for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			f, err := loadFragment(tx, v)
			if err != nil {
				return err
			}
			if !f.CreatedAt.After(after) {
				continue
			}
			if t, ok := latest[f.SessionID]; !ok || f.CreatedAt.After(t) {
				latest[f.SessionID] = f.CreatedAt
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sessions := make([]uuid.UUID, 0, len(latest))
	for id := range latest {
		sessions = append(sessions, id)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return latest[sessions[i]].After(latest[sessions[j]])
	})
	if max > 0 && len(sessions) > max {
		sessions = sessions[:max]
	}
	return sessions, nil
}

func (s *Bolt) SetEmbedding(_ context.Context, id uuid.UUID, vec []float32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bFragments).Get(id[:]) == nil {
			return ErrNotFound
		}
		return tx.Bucket(bEmbeddings).Put(id[:], graph.EncodeEmbedding(vec))
	})
}

func (s *Bolt) MarkFragmentProcessed(_ context.Context, id uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bFragments)
		data := b.Get(id[:])
		if data == nil {
			return ErrNotFound
		}
		var f graph.Fragment
		if err := jsonx.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("failed to decode fragment: %w", err)
		}
		if f.Processed {
			return nil
		}
		f.Processed = true
		updated, err := jsonx.Marshal(&f)
		if err != nil {
			return err
		}
		return b.Put(id[:], updated)
	})
}

func (s *Bolt) CreateEdge(_ context.Context, e *graph.Edge) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := jsonx.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode edge: %w", err)
		}
		if err := tx.Bucket(bEdges).Put(e.ID[:], data); err != nil {
			return err
		}
		if err := tx.Bucket(bEdgeOwnerIdx).Put(refKey(e.OwnerID, e.ID), e.ID[:]); err != nil {
			return err
		}
		if err := tx.Bucket(bEdgeSrcIdx).Put(refKey(e.SourceID, e.ID), e.ID[:]); err != nil {
			return err
		}
		if err := tx.Bucket(bEdgeTgtIdx).Put(refKey(e.TargetID, e.ID), e.ID[:]); err != nil {
			return err
		}
		return tx.Bucket(bEdgePairIdx).Put(pairKey(e.SourceID, e.TargetID, e.ID), e.ID[:])
	})
}

func (s *Bolt) GetEdge(_ context.Context, id uuid.UUID) (*graph.Edge, error) {
	var e *graph.Edge
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		e, err = loadEdge(tx, id[:])
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func loadEdge(tx *bolt.Tx, id []byte) (*graph.Edge, error) {
	data := tx.Bucket(bEdges).Get(id)
	if data == nil {
		return nil, ErrNotFound
	}
	var e graph.Edge
	if err := jsonx.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode edge: %w", err)
	}
	return &e, nil
}

func (s *Bolt) EdgeExists(_ context.Context, sourceID, targetID uuid.UUID) (bool, error) {
	exists := false
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bEdgePairIdx).Cursor()
		prefix := append(append([]byte{}, sourceID[:]...), targetID[:]...)
		k, _ := c.Seek(prefix)
		exists = k != nil && bytes.HasPrefix(k, prefix)
		return nil
	})
	return exists, err
}

func (s *Bolt) EdgesBetween(_ context.Context, sourceID, targetID uuid.UUID) ([]*graph.Edge, error) {
	var out []*graph.Edge
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bEdgePairIdx).Cursor()
		prefix := append(append([]byte{}, sourceID[:]...), targetID[:]...)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			e, err := loadEdge(tx, v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEdges(out)
	return out, nil
}

func (s *Bolt) edgesByIndex(idx []byte, prefix []byte) ([]*graph.Edge, error) {
	var out []*graph.Edge
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(idx).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			e, err := loadEdge(tx, v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Bolt) EdgesByFragment(_ context.Context, fragmentID uuid.UUID, dir EdgeDirection) ([]*graph.Edge, error) {
	var out []*graph.Edge
	if dir == Incoming || dir == BothDirections {
		in, err := s.edgesByIndex(bEdgeTgtIdx, fragmentID[:])
		if err != nil {
			return nil, err
		}
		out = append(out, in...)
	}
	if dir == Outgoing || dir == BothDirections {
		outgoing, err := s.edgesByIndex(bEdgeSrcIdx, fragmentID[:])
		if err != nil {
			return nil, err
		}
		out = append(out, outgoing...)
	}
	sortEdges(out)
	return out, nil
}

func (s *Bolt) CountEdgesByFragment(ctx context.Context, fragmentID uuid.UUID) (int, error) {
	edges, err := s.EdgesByFragment(ctx, fragmentID, BothDirections)
	if err != nil {
		return 0, err
	}
	return len(edges), nil
}

func (s *Bolt) EdgesByOwner(_ context.Context, ownerID uuid.UUID, unprocessedOnly bool) ([]*graph.Edge, error) {
	edges, err := s.edgesByIndex(bEdgeOwnerIdx, ownerID[:])
	if err != nil {
		return nil, err
	}
	if !unprocessedOnly {
		sortEdges(edges)
		return edges, nil
	}
	out := edges[:0]
	for _, e := range edges {
		if !e.Processed {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

func (s *Bolt) UnprocessedEdges(_ context.Context) ([]*graph.Edge, error) {
	var out []*graph.Edge
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bEdges).ForEach(func(_, v []byte) error {
			var e graph.Edge
			if err := jsonx.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to decode edge: %w", err)
			}
			if !e.Processed {
				out = append(out, &e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortEdges(out)
	return out, nil
}

func (s *Bolt) MarkEdgeProcessed(ctx context.Context, id uuid.UUID) error {
	return s.MarkEdgesProcessed(ctx, []uuid.UUID{id})
}

func (s *Bolt) MarkEdgesProcessed(_ context.Context, ids []uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bEdges)
		for _, id := range ids {
			data := b.Get(id[:])
			if data == nil {
				return ErrNotFound
			}
			var e graph.Edge
			if err := jsonx.Unmarshal(data, &e); err != nil {
				return fmt.Errorf("failed to decode edge: %w", err)
			}
			if e.Processed {
				continue
			}
			e.Processed = true
			updated, err := jsonx.Marshal(&e)
			if err != nil {
				return err
			}
			if err := b.Put(id[:], updated); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Bolt) CreateReflection(_ context.Context, r *graph.Reflection) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := jsonx.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode reflection: %w", err)
		}
		if err := tx.Bucket(bReflections).Put(r.ID[:], data); err != nil {
			return err
		}
		return tx.Bucket(bReflOwnerIdx).Put(refKey(r.OwnerID, r.ID), r.ID[:])
	})
}

func (s *Bolt) GetReflection(_ context.Context, id uuid.UUID) (*graph.Reflection, error) {
	var r *graph.Reflection
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bReflections).Get(id[:])
		if data == nil {
			return ErrNotFound
		}
		r = &graph.Reflection{}
		return jsonx.Unmarshal(data, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Bolt) ReflectionsByOwner(_ context.Context, ownerID uuid.UUID) ([]*graph.Reflection, error) {
	var out []*graph.Reflection
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bReflOwnerIdx).Cursor()
		prefix := ownerID[:]
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := tx.Bucket(bReflections).Get(v)
			if data == nil {
				continue
			}
			var r graph.Reflection
			if err := jsonx.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("failed to decode reflection: %w", err)
			}
			out = append(out, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Bolt) CountReflectionsByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	rs, err := s.ReflectionsByOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return len(rs), nil
}

func (s *Bolt) MarkViewed(_ context.Context, id uuid.UUID) error {
	return s.updateReflection(id, func(r *graph.Reflection) { r.Viewed = true })
}

func (s *Bolt) SetFeedback(_ context.Context, id uuid.UUID, feedback int) error {
	if feedback < -1 || feedback > 1 {
		return ErrInvalidFeedback
	}
	return s.updateReflection(id, func(r *graph.Reflection) { r.Feedback = feedback })
}

func (s *Bolt) updateReflection(id uuid.UUID, mutate func(*graph.Reflection)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bReflections)
		data := b.Get(id[:])
		if data == nil {
			return ErrNotFound
		}
		var r graph.Reflection
		if err := jsonx.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("failed to decode reflection: %w", err)
		}
		mutate(&r)
		updated, err := jsonx.Marshal(&r)
		if err != nil {
			return err
		}
		return b.Put(id[:], updated)
	})
}
