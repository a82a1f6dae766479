package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/porthorian/sessionauth/pkg/storage"
)

var (
	ErrLoginRequired = errors.New("memory store: login is required")
	ErrLoginTaken    = errors.New("memory store: login already belongs to another user")
)

// Adapter is an in-process user directory for tests, examples, and the
// "memory" storage backend.
type Adapter struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]storage.UserRecord
	byLogin map[string]int64
	groups  map[string]int64
	logs    []storage.AuthLogRecord
}

var _ storage.Store = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		byID:    map[int64]storage.UserRecord{},
		byLogin: map[string]int64{},
		groups:  map[string]int64{},
	}
}

func (a *Adapter) PutUser(ctx context.Context, record storage.UserRecord) (storage.UserRecord, error) {
	if record.Login == "" {
		return storage.UserRecord{}, ErrLoginRequired
	}
	record = storage.CloneUserRecord(record)

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.byLogin[record.Login]; ok && existing != record.ID {
		if record.ID != 0 {
			return storage.UserRecord{}, ErrLoginTaken
		}
		record.ID = existing
	}
	if record.ID == 0 {
		a.nextID++
		record.ID = a.nextID
	} else if record.ID > a.nextID {
		a.nextID = record.ID
	}

	now := time.Now().UTC()
	if previous, ok := a.byID[record.ID]; ok {
		delete(a.byLogin, previous.Login)
		record.DateAdded = previous.DateAdded
		record.DateModified = &now
	} else if record.DateAdded.IsZero() {
		record.DateAdded = now
	}

	for i := range record.Groups {
		id, ok := a.groups[record.Groups[i].Name]
		if !ok {
			id = int64(len(a.groups) + 1)
			a.groups[record.Groups[i].Name] = id
		}
		record.Groups[i].ID = id
	}

	a.byID[record.ID] = record
	a.byLogin[record.Login] = record.ID

	return storage.CloneUserRecord(record), nil
}

func (a *Adapter) FindByLogin(ctx context.Context, login string) (storage.UserRecord, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	id, ok := a.byLogin[login]
	if !ok {
		return storage.UserRecord{}, false, nil
	}
	return storage.CloneUserRecord(a.byID[id]), true, nil
}

func (a *Adapter) FindByID(ctx context.Context, id int64) (storage.UserRecord, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	record, ok := a.byID[id]
	if !ok {
		return storage.UserRecord{}, false, nil
	}
	return storage.CloneUserRecord(record), true, nil
}

func (a *Adapter) RolesOf(ctx context.Context, record storage.UserRecord) ([]string, error) {
	return storage.AggregateRoles(record), nil
}

// DeleteUser removes a user; tokens issued to it will no longer resolve.
func (a *Adapter) DeleteUser(ctx context.Context, id int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, ok := a.byID[id]
	if !ok {
		return false
	}
	delete(a.byID, id)
	delete(a.byLogin, record.Login)
	return true
}

func (a *Adapter) PutAuthLog(ctx context.Context, record storage.AuthLogRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.DateAdded.IsZero() {
		record.DateAdded = time.Now().UTC()
	}
	record.Metadata = cloneMetadata(record.Metadata)

	a.mu.Lock()
	a.logs = append(a.logs, record)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) ListAuthLogsByUserID(ctx context.Context, userID int64) ([]storage.AuthLogRecord, error) {
	a.mu.RLock()
	records := []storage.AuthLogRecord{}
	for _, record := range a.logs {
		if record.UserID == userID {
			record.Metadata = cloneMetadata(record.Metadata)
			records = append(records, record)
		}
	}
	a.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].OccurredAt.Before(records[j].OccurredAt)
	})
	return records, nil
}

func cloneMetadata(metadata map[string]string) map[string]string {
	cloned := map[string]string{}
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}
