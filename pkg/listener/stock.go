package listener

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/porthorian/sessionauth/pkg/identity"
	"github.com/porthorian/sessionauth/pkg/storage"
)

// LogListener writes one V(1) log line per transition.
type LogListener struct {
	Logger logr.Logger
}

func NewLogListener(logger logr.Logger) *LogListener {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &LogListener{Logger: logger}
}

func (l *LogListener) OnLogin(_ context.Context, principal identity.Principal, props identity.Properties) error {
	l.Logger.V(1).Info("login", "principalID", principal.ID, "login", principal.Login, "properties", map[string]string(props))
	return nil
}

func (l *LogListener) OnLogout(_ context.Context, principal identity.Principal, props identity.Properties) error {
	l.Logger.V(1).Info("logout", "principalID", principal.ID, "login", principal.Login, "properties", map[string]string(props))
	return nil
}

// Record is the JSON line emitted by JSONWriter.
type Record struct {
	Timestamp   time.Time         `json:"timestamp"`
	Event       Event             `json:"event"`
	PrincipalID int64             `json:"principal_id"`
	Login       string            `json:"login"`
	Roles       []string          `json:"roles,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// JSONWriter writes one JSON object per line.
type JSONWriter struct {
	writer io.Writer
	now    func() time.Time
	mu     sync.Mutex
}

func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{
		writer: w,
		now:    time.Now,
	}
}

func (s *JSONWriter) OnLogin(_ context.Context, principal identity.Principal, props identity.Properties) error {
	return s.write(EventLogin, principal, props)
}

func (s *JSONWriter) OnLogout(_ context.Context, principal identity.Principal, props identity.Properties) error {
	return s.write(EventLogout, principal, props)
}

func (s *JSONWriter) write(event Event, principal identity.Principal, props identity.Properties) error {
	if s == nil || s.writer == nil {
		return nil
	}

	data, err := json.Marshal(Record{
		Timestamp:   s.now().UTC(),
		Event:       event,
		PrincipalID: principal.ID,
		Login:       principal.Login,
		Roles:       principal.Roles,
		Properties:  props,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// AuditListener persists each transition through an auth log store.
type AuditListener struct {
	store storage.AuthLogStore
	now   func() time.Time
}

func NewAuditListener(store storage.AuthLogStore) *AuditListener {
	return &AuditListener{
		store: store,
		now:   time.Now,
	}
}

func (a *AuditListener) OnLogin(ctx context.Context, principal identity.Principal, props identity.Properties) error {
	return a.put(ctx, storage.AuthLogEventLogin, principal, props)
}

func (a *AuditListener) OnLogout(ctx context.Context, principal identity.Principal, props identity.Properties) error {
	return a.put(ctx, storage.AuthLogEventLogout, principal, props)
}

func (a *AuditListener) put(ctx context.Context, event storage.AuthLogEvent, principal identity.Principal, props identity.Properties) error {
	if a == nil || a.store == nil {
		return nil
	}

	metadata := props.Clone()
	sessionID := metadata[identity.PropertySessionID]
	delete(metadata, identity.PropertySessionID)

	return a.store.PutAuthLog(ctx, storage.AuthLogRecord{
		UserID:     principal.ID,
		Login:      principal.Login,
		SessionID:  sessionID,
		Event:      event,
		OccurredAt: a.now().UTC(),
		Metadata:   metadata,
	})
}
