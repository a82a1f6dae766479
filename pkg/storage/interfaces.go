package storage

import (
	"context"
	"time"
)

// GroupRecord is a named set of roles a user can belong to.
type GroupRecord struct {
	ID    int64
	Name  string
	Roles []string
}

// UserRecord is the directory view of a user. The authentication core treats
// it as read-only.
type UserRecord struct {
	ID             int64
	Login          string
	DisplayName    string
	PasswordDigest string
	Roles          []string
	Groups         []GroupRecord
	DateAdded      time.Time
	DateModified   *time.Time
}

type AuthLogEvent string

const (
	AuthLogEventLogin  AuthLogEvent = "login"
	AuthLogEventLogout AuthLogEvent = "logout"
)

type AuthLogRecord struct {
	ID         string
	DateAdded  time.Time
	UserID     int64
	Login      string
	SessionID  string
	Event      AuthLogEvent
	OccurredAt time.Time
	Metadata   map[string]string
}

// PrincipalStore is the lookup surface of the external user directory.
// Lookups are exact and case-sensitive; a missing user is reported as
// ok=false with a nil error.
type PrincipalStore interface {
	FindByLogin(ctx context.Context, login string) (UserRecord, bool, error)
	FindByID(ctx context.Context, id int64) (UserRecord, bool, error)
	// RolesOf returns the union of direct roles and the roles of every group.
	RolesOf(ctx context.Context, record UserRecord) ([]string, error)
}

// UserWriter provisions directory entries. Only tooling uses it.
type UserWriter interface {
	PutUser(ctx context.Context, record UserRecord) (UserRecord, error)
}

type AuthLogStore interface {
	PutAuthLog(ctx context.Context, record AuthLogRecord) error
	ListAuthLogsByUserID(ctx context.Context, userID int64) ([]AuthLogRecord, error)
}

type Store interface {
	PrincipalStore
	UserWriter
	AuthLogStore
}
