// Package store owns the shared canvas document and performs every
// mutation as a whole-document optimistic transaction: watch the key,
// read the full shape collection, apply the change, write the full
// collection back. Concurrent writers conflict on commit and retry.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"easel/engine/internal/retry"
)

const (
	keyPrefix   = "canvas:"
	registryKey = "canvas:registry"
)

// Snapshot is what subscribers receive after every commit: the full
// shape list in paint order.
type Snapshot struct {
	CanvasID    string    `json:"canvasId"`
	Shapes      []Shape   `json:"shapes"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// RedisStore keeps one JSON document per canvas and relies on
// WATCH/MULTI/EXEC for conflict detection. There is no coordinator:
// correctness comes from the transaction primitive plus retry.
type RedisStore struct {
	client *redis.Client
	policy retry.Policy
}

// Open connects to Redis and verifies the connection.
func Open(redisURL string, policy retry.Policy) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, policy), nil
}

// NewWithClient creates a store from an existing Redis client.
func NewWithClient(client *redis.Client, policy retry.Policy) *RedisStore {
	return &RedisStore{client: client, policy: policy}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(canvasID string) string {
	return keyPrefix + canvasID
}

func (s *RedisStore) feedChannel(canvasID string) string {
	return keyPrefix + canvasID + ":feed"
}

// IsConflict reports whether err is the conflict-class failure of the
// underlying transaction primitive (another writer committed first).
func IsConflict(err error) bool {
	return errors.Is(err, redis.TxFailedErr)
}

// WithDocument runs fn against the current document inside one
// optimistic transaction, retrying conflicts per the store's policy.
// fn returns dirty=false to commit nothing (read-only or no-op paths
// skip the write entirely). On a dirty commit LastUpdated is stamped
// and the full shape list is published to subscribers.
func (s *RedisStore) WithDocument(ctx context.Context, canvasID string, fn func(doc *CanvasDocument) (dirty bool, err error)) error {
	key := s.key(canvasID)
	attempt := func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			doc, err := s.load(ctx, canvasID, tx.Get(ctx, key))
			if err != nil {
				return err
			}
			dirty, err := fn(doc)
			if err != nil || !dirty {
				return err
			}
			doc.LastUpdated = time.Now().UTC()
			payload, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("encode document: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				pipe.SAdd(ctx, registryKey, canvasID)
				return nil
			})
			if err != nil {
				return err
			}
			s.publish(ctx, doc)
			return nil
		}, key)
	}
	return s.policy.Do(ctx, IsConflict, attempt)
}

func (s *RedisStore) load(ctx context.Context, canvasID string, get *redis.StringCmd) (*CanvasDocument, error) {
	raw, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		// Documents are created lazily on first access.
		return &CanvasDocument{CanvasID: canvasID, Shapes: map[string]Shape{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", canvasID, err)
	}
	var doc CanvasDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", canvasID, err)
	}
	if doc.Shapes == nil {
		doc.Shapes = map[string]Shape{}
	}
	doc.CanvasID = canvasID
	return &doc, nil
}

// publish is fire-and-forget: the commit already happened and the feed
// is best-effort.
func (s *RedisStore) publish(ctx context.Context, doc *CanvasDocument) {
	snap := Snapshot{
		CanvasID:    doc.CanvasID,
		Shapes:      doc.SortedShapes(),
		LastUpdated: doc.LastUpdated,
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	s.client.Publish(ctx, s.feedChannel(doc.CanvasID), payload)
}

// GetDocument reads the current document. A missing document reads as
// empty rather than as an error.
func (s *RedisStore) GetDocument(ctx context.Context, canvasID string) (CanvasDocument, error) {
	doc, err := s.load(ctx, canvasID, s.client.Get(ctx, s.key(canvasID)))
	if err != nil {
		return CanvasDocument{}, err
	}
	return *doc, nil
}

// ListCanvases returns every canvas id that has ever committed.
func (s *RedisStore) ListCanvases(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, registryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list canvases: %w", err)
	}
	return ids, nil
}

// CreateShape appends a shape to the document, initializing the
// document itself if this is its first shape. The id is generated when
// absent; the zIndex defaults to one above the current maximum.
func (s *RedisStore) CreateShape(ctx context.Context, canvasID string, draft ShapeDraft, user User) (Shape, error) {
	var created Shape
	err := s.WithDocument(ctx, canvasID, func(doc *CanvasDocument) (bool, error) {
		now := time.Now().UTC()
		shape := Shape{
			ID:             draft.ID,
			Type:           draft.Type,
			Attrs:          cloneAttrs(draft.Attrs),
			CreatedBy:      user.UID,
			CreatedAt:      now,
			LastModifiedBy: user.UID,
			LastModifiedAt: now,
		}
		if shape.ID == "" {
			shape.ID = uuid.NewString()
		}
		if draft.ZIndex != nil {
			shape.ZIndex = *draft.ZIndex
		} else {
			shape.ZIndex = nextZIndex(doc)
		}
		doc.Shapes[shape.ID] = shape
		created = shape
		return true, nil
	})
	if err != nil {
		return Shape{}, err
	}
	return created, nil
}

func nextZIndex(doc *CanvasDocument) int {
	if len(doc.Shapes) == 0 {
		return 0
	}
	max := 0
	first := true
	for _, s := range doc.Shapes {
		if first || s.ZIndex > max {
			max = s.ZIndex
			first = false
		}
	}
	return max + 1
}

// UpdateShape merges patch into the target shape. A nil patch value
// removes that attribute instead of setting it. Updates to a shape
// locked by someone else are silently skipped: the transaction still
// commits nothing and the caller sees SkippedLocked, not an error.
func (s *RedisStore) UpdateShape(ctx context.Context, canvasID, shapeID string, patch map[string]any, user User) (UpdateOutcome, error) {
	outcome := UpdateNotFound
	err := s.WithDocument(ctx, canvasID, func(doc *CanvasDocument) (bool, error) {
		shape, ok := doc.Shapes[shapeID]
		if !ok {
			outcome = UpdateNotFound
			return false, nil
		}
		if shape.IsLocked && shape.LockedBy != user.UID {
			outcome = UpdateSkippedLocked
			return false, nil
		}
		applyPatch(&shape, patch)
		shape.LastModifiedBy = user.UID
		shape.LastModifiedAt = time.Now().UTC()
		doc.Shapes[shapeID] = shape
		outcome = UpdateApplied
		return true, nil
	})
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

// applyPatch mutates a shape in place. "zIndex" addresses the layer
// index; every other key addresses a free-form attribute.
func applyPatch(shape *Shape, patch map[string]any) {
	for k, v := range patch {
		if k == "zIndex" {
			if z, ok := asInt(v); ok {
				shape.ZIndex = z
			}
			continue
		}
		if v == nil {
			delete(shape.Attrs, k)
			continue
		}
		if shape.Attrs == nil {
			shape.Attrs = map[string]any{}
		}
		shape.Attrs[k] = v
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

// DeleteShape removes the shape by id. Deleting an id that is not
// present is a no-op, not an error, so deletes are idempotent.
func (s *RedisStore) DeleteShape(ctx context.Context, canvasID, shapeID string) error {
	return s.WithDocument(ctx, canvasID, func(doc *CanvasDocument) (bool, error) {
		if _, ok := doc.Shapes[shapeID]; !ok {
			return false, nil
		}
		delete(doc.Shapes, shapeID)
		return true, nil
	})
}

// ReorderFunc computes a new zIndex for target given every other shape
// in the document. ok=false means leave the shape where it is.
type ReorderFunc func(target Shape, others []Shape) (newZ int, ok bool)

// ReorderShape applies move inside the transaction so the decision is
// made against the same document state it commits to. Reordering
// deliberately ignores lock state; locks only gate attribute updates.
func (s *RedisStore) ReorderShape(ctx context.Context, canvasID, shapeID string, move ReorderFunc, user User) (before, after int, moved bool, err error) {
	err = s.WithDocument(ctx, canvasID, func(doc *CanvasDocument) (bool, error) {
		shape, ok := doc.Shapes[shapeID]
		if !ok {
			return false, nil
		}
		before = shape.ZIndex
		others := make([]Shape, 0, len(doc.Shapes)-1)
		for id, other := range doc.Shapes {
			if id != shapeID {
				others = append(others, other)
			}
		}
		newZ, ok := move(shape, others)
		if !ok || newZ == shape.ZIndex {
			after = shape.ZIndex
			return false, nil
		}
		shape.ZIndex = newZ
		shape.LastModifiedBy = user.UID
		shape.LastModifiedAt = time.Now().UTC()
		doc.Shapes[shapeID] = shape
		after = newZ
		moved = true
		return true, nil
	})
	return before, after, moved, err
}

// PutShapes writes full shape snapshots back into the document in one
// transaction, preserving their ids, audit fields, and zIndexes. This
// is the restore path for undo/redo of deletes and bulk operations.
func (s *RedisStore) PutShapes(ctx context.Context, canvasID string, shapes []Shape) error {
	if len(shapes) == 0 {
		return nil
	}
	return s.WithDocument(ctx, canvasID, func(doc *CanvasDocument) (bool, error) {
		for _, shape := range shapes {
			if shape.ID == "" {
				return false, fmt.Errorf("put shapes: shape without id")
			}
			doc.Shapes[shape.ID] = shape
		}
		return true, nil
	})
}

// DeleteShapes removes every listed id in one transaction. Missing ids
// are skipped; the write happens only if something was removed.
func (s *RedisStore) DeleteShapes(ctx context.Context, canvasID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.WithDocument(ctx, canvasID, func(doc *CanvasDocument) (bool, error) {
		removed := false
		for _, id := range ids {
			if _, ok := doc.Shapes[id]; ok {
				delete(doc.Shapes, id)
				removed = true
			}
		}
		return removed, nil
	})
}

// Subscribe delivers a Snapshot on every commit to the canvas until ctx
// is done or the returned stop function is called.
func (s *RedisStore) Subscribe(ctx context.Context, canvasID string) (<-chan Snapshot, func(), error) {
	pubsub := s.client.Subscribe(ctx, s.feedChannel(canvasID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe to %s: %w", canvasID, err)
	}

	out := make(chan Snapshot, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var snap Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				continue
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	stop := func() { _ = pubsub.Close() }
	return out, stop, nil
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
