// File: internal/usecase/record_store.go
package usecase

import (
	"fmt"
	"sync"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/model"
)

// Update is a status-update message for one record. Seq must be the
// sequence currently holding the record.
type Update struct {
	ID          string
	Seq         string
	Status      model.ImageStatus
	Result      *model.Image
	Error       string
	PassThrough bool
}

// TransitionListener observes every applied update.
type TransitionListener func(batchID string, before, after model.ImageRecord)

type recordState struct {
	order []string
	byID  map[string]*model.ImageRecord
	owner map[string]string
}

// RecordStore owns the records of one batch. A single goroutine applies all
// reads and updates in arrival order; sequences (the primary run, a reverify
// action) must claim a record before updating it, so each record is advanced
// by at most one sequence at a time.
type RecordStore struct {
	batchID string
	ops     chan func(*recordState)
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once

	lmu       sync.RWMutex
	listeners []TransitionListener
}

// NewRecordStore starts the store's consumer goroutine. Call Close to release it.
func NewRecordStore(batchID string, records []*model.ImageRecord) (*RecordStore, error) {
	st := recordState{
		byID:  make(map[string]*model.ImageRecord, len(records)),
		owner: make(map[string]string),
	}
	for _, r := range records {
		if r == nil || r.ID == "" {
			return nil, domain.ErrInvalidArgument
		}
		if _, dup := st.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate record id %q: %w", r.ID, domain.ErrInvalidArgument)
		}
		cp := *r
		st.byID[r.ID] = &cp
		st.order = append(st.order, r.ID)
	}

	s := &RecordStore{
		batchID: batchID,
		ops:     make(chan func(*recordState)),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.loop(st)
	return s, nil
}

func (s *RecordStore) loop(st recordState) {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			op(&st)
		case <-s.quit:
			return
		}
	}
}

// Close stops the consumer and drops every image reference. Later calls
// fail with domain.ErrBatchDiscarded.
func (s *RecordStore) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

func (s *RecordStore) do(fn func(st *recordState)) error {
	finished := make(chan struct{})
	op := func(st *recordState) {
		defer close(finished)
		fn(st)
	}
	select {
	case s.ops <- op:
	case <-s.done:
		return domain.ErrBatchDiscarded
	}
	<-finished
	return nil
}

// OnTransition registers a listener. Listeners run on the updating sequence's
// goroutine, after the update is applied, and must not block for long.
func (s *RecordStore) OnTransition(fn TransitionListener) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, fn)
	s.lmu.Unlock()
}

func (s *RecordStore) Len() int {
	n := 0
	_ = s.do(func(st *recordState) { n = len(st.order) })
	return n
}

// IDs returns record ids in batch order.
func (s *RecordStore) IDs() []string {
	var ids []string
	_ = s.do(func(st *recordState) {
		ids = append([]string(nil), st.order...)
	})
	return ids
}

// IDsWithStatus returns, in batch order, the ids currently in status.
func (s *RecordStore) IDsWithStatus(status model.ImageStatus) []string {
	var ids []string
	_ = s.do(func(st *recordState) {
		for _, id := range st.order {
			if st.byID[id].Status == status {
				ids = append(ids, id)
			}
		}
	})
	return ids
}

func (s *RecordStore) Get(id string) (model.ImageRecord, error) {
	var (
		rec model.ImageRecord
		err error
	)
	if derr := s.do(func(st *recordState) {
		r, ok := st.byID[id]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		rec = *r
	}); derr != nil {
		return model.ImageRecord{}, derr
	}
	return rec, err
}

// Snapshot copies every record in batch order.
func (s *RecordStore) Snapshot() []model.ImageRecord {
	var out []model.ImageRecord
	_ = s.do(func(st *recordState) {
		out = make([]model.ImageRecord, 0, len(st.order))
		for _, id := range st.order {
			out = append(out, *st.byID[id])
		}
	})
	return out
}

// Busy reports whether a sequence holds the record.
func (s *RecordStore) Busy(id string) bool {
	busy := false
	_ = s.do(func(st *recordState) { _, busy = st.owner[id] })
	return busy
}

// Claim gives seq exclusive ownership of a record.
func (s *RecordStore) Claim(id, seq string) (model.ImageRecord, error) {
	return s.ClaimIf(id, seq)
}

// ClaimIf claims a record only when its status is one of allowed (any
// status when allowed is empty). Nothing changes on failure.
func (s *RecordStore) ClaimIf(id, seq string, allowed ...model.ImageStatus) (model.ImageRecord, error) {
	if seq == "" {
		return model.ImageRecord{}, domain.ErrInvalidArgument
	}
	var (
		rec model.ImageRecord
		err error
	)
	if derr := s.do(func(st *recordState) {
		r, ok := st.byID[id]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		if owner, held := st.owner[id]; held && owner != seq {
			err = domain.ErrRecordBusy
			return
		}
		if len(allowed) > 0 && !statusIn(r.Status, allowed) {
			err = fmt.Errorf("image %s is %s: %w", id, r.Status, domain.ErrNotEligible)
			return
		}
		st.owner[id] = seq
		rec = *r
	}); derr != nil {
		return model.ImageRecord{}, derr
	}
	return rec, err
}

// Release drops seq's ownership. Releasing a record held by another
// sequence is a no-op.
func (s *RecordStore) Release(id, seq string) {
	_ = s.do(func(st *recordState) {
		if st.owner[id] == seq {
			delete(st.owner, id)
		}
	})
}

// Apply validates and applies an update, returning the record before and after.
func (s *RecordStore) Apply(u Update) (before, after model.ImageRecord, err error) {
	if derr := s.do(func(st *recordState) {
		r, ok := st.byID[u.ID]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		if st.owner[u.ID] != u.Seq || u.Seq == "" {
			err = domain.ErrRecordBusy
			return
		}
		if !model.CanTransition(r.Status, u.Status) {
			err = fmt.Errorf("image %s: %s -> %s: %w", u.ID, r.Status, u.Status, domain.ErrInvalidTransition)
			return
		}
		next := *r
		next.Status = u.Status
		next.Result = nil
		next.Error = ""
		next.PassThrough = false
		switch u.Status {
		case model.ImageStatusDone:
			next.Result = u.Result
			next.PassThrough = u.PassThrough
		case model.ImageStatusFailed:
			next.Error = u.Error
		}
		if verr := next.Validate(); verr != nil {
			err = verr
			return
		}
		before = *r
		*r = next
		after = next
	}); derr != nil {
		return model.ImageRecord{}, model.ImageRecord{}, derr
	}
	if err != nil {
		return model.ImageRecord{}, model.ImageRecord{}, err
	}

	s.lmu.RLock()
	ls := s.listeners
	s.lmu.RUnlock()
	for _, fn := range ls {
		fn(s.batchID, before, after)
	}
	return before, after, nil
}

func statusIn(s model.ImageStatus, set []model.ImageStatus) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}
