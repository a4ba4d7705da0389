// Package memstore is an in-memory consultation store with the same
// conditional-update and change-feed semantics as the Postgres store. It
// backs local development and the concurrency tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/farmbridge/farmbridge/internal/domain/consultation"
)

const watcherBuffer = 256

type watcher struct {
	ch chan consultation.ChangeEvent
}

// Store implements consultation.Store and consultation.ChangeFeed.
type Store struct {
	mu       sync.Mutex
	records  map[uuid.UUID]consultation.Consultation
	events   []consultation.ChangeEvent
	nextSeq  int64
	watchers map[int]*watcher
	nextWID  int
}

func NewStore() *Store {
	return &Store{
		records:  make(map[uuid.UUID]consultation.Consultation),
		watchers: make(map[int]*watcher),
		nextSeq:  1,
	}
}

func (s *Store) Create(_ context.Context, c *consultation.Consultation, actorID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextSeq
	s.records[c.ConsultationID] = *c
	s.appendEventLocked(consultation.EventInsert, *c, actorID)
	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, consultation.ErrNotFound
	}
	out := rec
	return &out, nil
}

// ConditionalUpdate writes c only if the stored version still equals
// expectedVersion. Exactly one of N concurrent writers with the same token
// succeeds; the rest observe ErrConflict.
func (s *Store) ConditionalUpdate(_ context.Context, c *consultation.Consultation, expectedVersion int64, actorID uuid.UUID) (*consultation.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[c.ConsultationID]
	if !ok {
		return nil, consultation.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return nil, consultation.ErrConflict
	}
	next := *c
	next.ID = cur.ID
	s.records[c.ConsultationID] = next
	s.appendEventLocked(consultation.EventUpdate, next, actorID)
	out := next
	return &out, nil
}

func (s *Store) List(_ context.Context, filter consultation.Filter, limit, offset int) ([]*consultation.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]*consultation.Consultation, 0)
	for _, rec := range s.records {
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		if filter.FarmerID != nil && rec.FarmerID != *filter.FarmerID {
			continue
		}
		if filter.ExpertID != nil && (rec.ExpertID == nil || *rec.ExpertID != *filter.ExpertID) {
			continue
		}
		out := rec
		matched = append(matched, &out)
	}
	sortByCreatedAtDesc(matched)
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Changes streams committed events with Seq > fromSeq: the backlog first,
// then live events, in commit order. The channel closes when ctx ends.
func (s *Store) Changes(ctx context.Context, fromSeq int64) (<-chan consultation.ChangeEvent, error) {
	out := make(chan consultation.ChangeEvent, watcherBuffer)

	s.mu.Lock()
	backlog := make([]consultation.ChangeEvent, 0)
	for _, ev := range s.events {
		if ev.Seq > fromSeq {
			backlog = append(backlog, ev)
		}
	}
	wid := s.nextWID
	s.nextWID++
	w := &watcher{
		ch: make(chan consultation.ChangeEvent, watcherBuffer),
	}
	s.watchers[wid] = w
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.watchers, wid)
			s.mu.Unlock()
			close(out)
		}()
		for _, ev := range backlog {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case ev := <-w.ch:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// LatestSeq returns the seq of the newest committed event, zero when the
// log is empty.
func (s *Store) LatestSeq(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq - 1, nil
}

func (s *Store) Events(_ context.Context, fromSeq int64, limit int) ([]consultation.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]consultation.ChangeEvent, 0)
	for _, ev := range s.events {
		if ev.Seq <= fromSeq {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) appendEventLocked(t consultation.EventType, rec consultation.Consultation, actorID uuid.UUID) {
	ev := consultation.ChangeEvent{
		Seq:          s.nextSeq,
		Type:         t,
		Consultation: rec,
		ActorID:      actorID,
		OccurredAt:   time.Now().UTC(),
	}
	s.nextSeq++
	s.events = append(s.events, ev)
	for _, w := range s.watchers {
		select {
		case w.ch <- ev:
		default:
			// Slow consumer with a full buffer: drop rather than block
			// every store write behind it. Consumers dedupe on per-record
			// versions and can resume from their cursor.
		}
	}
}

func sortByCreatedAtDesc(list []*consultation.Consultation) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
