package test

import (
	"database/sql"
	"errors"
	"sort"
	"sync"

	"inviqa/mqtt-outbox-relay/outbox"
)

// MockRepository is an in-memory ledger with the same row semantics as the
// SQL repository.
type MockRepository struct {
	sync.RWMutex
	records       []*outbox.Record
	nextId        uint
	returnError   bool
	insertError   error
	insertFails   int
	confirmError  error
	mockQueueSize *uint
	mockTotalSize *uint
}

func NewMockRepository() *MockRepository {
	return &MockRepository{}
}

func (mr *MockRepository) Insert(rec *outbox.Record) error {
	mr.Lock()
	defer mr.Unlock()
	if mr.returnError {
		return errors.New("oops")
	}
	if err := mr.insertError; err != nil {
		if mr.insertFails > 0 {
			mr.insertFails--
			if mr.insertFails == 0 {
				mr.insertError = nil
			}
		}
		return err
	}

	if rec.MessageId != 0 {
		for _, r := range mr.records {
			if r.LogicalTime == rec.LogicalTime && r.MessageId == rec.MessageId && !r.ConfirmedAt.Valid {
				r.MessageId = 0
			}
		}
	}

	mr.nextId++
	cp := *rec
	cp.Id = mr.nextId
	cp.ConfirmedAt = sql.NullInt64{}
	mr.records = append(mr.records, &cp)

	return nil
}

func (mr *MockRepository) Confirm(logicalTime int64, messageId int, at int64) (int64, error) {
	mr.Lock()
	defer mr.Unlock()
	if mr.returnError {
		return 0, errors.New("oops")
	}
	if mr.confirmError != nil {
		return 0, mr.confirmError
	}

	var n int64
	for _, r := range mr.records {
		if r.LogicalTime == logicalTime && r.MessageId == messageId && !r.ConfirmedAt.Valid {
			r.ConfirmedAt = sql.NullInt64{Int64: at, Valid: true}
			n++
		}
	}

	return n, nil
}

func (mr *MockRepository) Supersede(id uint) error {
	mr.Lock()
	defer mr.Unlock()
	if mr.returnError {
		return errors.New("oops")
	}

	for _, r := range mr.records {
		if r.Id == id && !r.ConfirmedAt.Valid {
			r.MessageId = 0
			r.ConfirmedAt = sql.NullInt64{Int64: 0, Valid: true}
		}
	}

	return nil
}

func (mr *MockRepository) Unconfirmed() ([]*outbox.Record, error) {
	mr.RLock()
	defer mr.RUnlock()
	if mr.returnError {
		return nil, errors.New("oops")
	}

	var recs []*outbox.Record
	for _, r := range mr.records {
		if !r.ConfirmedAt.Valid {
			cp := *r
			recs = append(recs, &cp)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].LogicalTime == recs[j].LogicalTime {
			return recs[i].Id < recs[j].Id
		}
		return recs[i].LogicalTime < recs[j].LogicalTime
	})

	return recs, nil
}

func (mr *MockRepository) DeleteConfirmedFirstAttempt() (int64, error) {
	return mr.deleteWhere(func(r *outbox.Record) bool {
		return r.ConfirmedAt.Valid && r.ConfirmedAt.Int64 > 0 && r.PreviousMessageId == 0
	})
}

func (mr *MockRepository) DeleteConfirmed() (int64, error) {
	return mr.deleteWhere(func(r *outbox.Record) bool {
		return r.ConfirmedAt.Valid
	})
}

func (mr *MockRepository) DeleteStaleUnconfirmed(processedBefore int64) (int64, error) {
	return mr.deleteWhere(func(r *outbox.Record) bool {
		return !r.ConfirmedAt.Valid && r.ProcessedAt < processedBefore
	})
}

func (mr *MockRepository) GetQueueSize() (uint, error) {
	if mr.returnError {
		return 0, errors.New("oops")
	}
	if mr.mockQueueSize != nil {
		return *mr.mockQueueSize, nil
	}

	recs, _ := mr.Unconfirmed()
	return uint(len(recs)), nil
}

func (mr *MockRepository) GetTotalSize() (uint, error) {
	if mr.returnError {
		return 0, errors.New("oops")
	}
	if mr.mockTotalSize != nil {
		return *mr.mockTotalSize, nil
	}

	mr.RLock()
	defer mr.RUnlock()
	return uint(len(mr.records)), nil
}

func (mr *MockRepository) Ping() error {
	if mr.returnError {
		return errors.New("oops")
	}

	return nil
}

// Records returns a copy of every stored row in insertion order.
func (mr *MockRepository) Records() []outbox.Record {
	mr.RLock()
	defer mr.RUnlock()

	recs := make([]outbox.Record, 0, len(mr.records))
	for _, r := range mr.records {
		recs = append(recs, *r)
	}

	return recs
}

// AddRecord stores a row as is, including its confirmation state.
func (mr *MockRepository) AddRecord(rec outbox.Record) uint {
	mr.Lock()
	defer mr.Unlock()

	mr.nextId++
	rec.Id = mr.nextId
	mr.records = append(mr.records, &rec)

	return rec.Id
}

func (mr *MockRepository) ReturnErrors() {
	mr.returnError = true
}

func (mr *MockRepository) ReturnInsertError(err error) {
	mr.Lock()
	defer mr.Unlock()
	mr.insertError = err
	mr.insertFails = 0
}

// ReturnInsertErrorTimes fails the next n inserts with err.
func (mr *MockRepository) ReturnInsertErrorTimes(err error, n int) {
	mr.Lock()
	defer mr.Unlock()
	mr.insertError = err
	mr.insertFails = n
}

func (mr *MockRepository) ReturnConfirmError(err error) {
	mr.confirmError = err
}

func (mr *MockRepository) SetQueueSize(size uint) {
	mr.mockQueueSize = &size
}

func (mr *MockRepository) SetTotalSize(size uint) {
	mr.mockTotalSize = &size
}

func (mr *MockRepository) deleteWhere(match func(r *outbox.Record) bool) (int64, error) {
	mr.Lock()
	defer mr.Unlock()
	if mr.returnError {
		return 0, errors.New("oops")
	}

	var n int64
	kept := mr.records[:0]
	for _, r := range mr.records {
		if match(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	mr.records = kept

	return n, nil
}
