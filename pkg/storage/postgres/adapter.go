package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/porthorian/sessionauth/pkg/storage"
)

type Adapter struct {
	db *sql.DB
	tx *sql.Tx

	stmts *preparedStatements
}

type preparedStatements struct {
	findUserByLogin *sql.Stmt
	findUserByID    *sql.Stmt
	listUserRoles   *sql.Stmt
	listUserGroups  *sql.Stmt
	rolesOf         *sql.Stmt

	insertUser       *sql.Stmt
	upsertUserByID   *sql.Stmt
	deleteUserRoles  *sql.Stmt
	putUserRole      *sql.Stmt
	putGroup         *sql.Stmt
	deleteGroupRoles *sql.Stmt
	putGroupRole     *sql.Stmt
	deleteUserGroups *sql.Stmt
	putUserGroup     *sql.Stmt

	putAuthEvent              *sql.Stmt
	putAuthEventProperty      *sql.Stmt
	listAuthEventByUserID     *sql.Stmt
	listAuthEventPropByUserID *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var fixedPrepareStatementSpecs = []prepareStatementSpec{
	{label: "find user by login", query: findUserByLoginQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.findUserByLogin = stmt }},
	{label: "find user by id", query: findUserByIDQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.findUserByID = stmt }},
	{label: "list user roles", query: listUserRolesQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.listUserRoles = stmt }},
	{label: "list user groups", query: listUserGroupsQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.listUserGroups = stmt }},
	{label: "roles of", query: rolesOfQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.rolesOf = stmt }},
	{label: "insert user", query: insertUserQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.insertUser = stmt }},
	{label: "upsert user by id", query: upsertUserByIDQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.upsertUserByID = stmt }},
	{label: "delete user roles", query: deleteUserRolesQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.deleteUserRoles = stmt }},
	{label: "put user role", query: putUserRoleQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.putUserRole = stmt }},
	{label: "put group", query: putGroupQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.putGroup = stmt }},
	{label: "delete group roles", query: deleteGroupRolesQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.deleteGroupRoles = stmt }},
	{label: "put group role", query: putGroupRoleQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.putGroupRole = stmt }},
	{label: "delete user groups", query: deleteUserGroupsQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.deleteUserGroups = stmt }},
	{label: "put user group", query: putUserGroupQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.putUserGroup = stmt }},
	{label: "put auth event", query: putAuthEventQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.putAuthEvent = stmt }},
	{label: "put auth event property", query: putAuthEventPropertyQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.putAuthEventProperty = stmt }},
	{label: "list auth event by user_id", query: listAuthEventByUserIDQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.listAuthEventByUserID = stmt }},
	{label: "list auth event property by user_id", query: listAuthEventPropertyByUserIDQuery, assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.listAuthEventPropByUserID = stmt }},
}

var (
	ErrNilDB                 = errors.New("postgres adapter: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres adapter: adapter not initialized")
	ErrLoginRequired         = errors.New("postgres adapter: login is required")
)

var _ storage.Store = (*Adapter)(nil)

func NewAdapter(db *sql.DB) (*Adapter, error) {
	adapter := &Adapter{
		db:    db,
		stmts: &preparedStatements{},
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a == nil || a.stmts == nil || a.tx != nil {
		return nil
	}

	ps := a.stmts
	return closeStatements(
		ps.findUserByLogin,
		ps.findUserByID,
		ps.listUserRoles,
		ps.listUserGroups,
		ps.rolesOf,
		ps.insertUser,
		ps.upsertUserByID,
		ps.deleteUserRoles,
		ps.putUserRole,
		ps.putGroup,
		ps.deleteGroupRoles,
		ps.putGroupRole,
		ps.deleteUserGroups,
		ps.putUserGroup,
		ps.putAuthEvent,
		ps.putAuthEventProperty,
		ps.listAuthEventByUserID,
		ps.listAuthEventPropByUserID,
	)
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(fixedPrepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
			a.stmts = &preparedStatements{}
		}
	}()

	for _, spec := range fixedPrepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			err = fmt.Errorf("postgres adapter: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	ps := a.stmts
	if ps == nil || ps.findUserByLogin == nil || ps.findUserByID == nil || ps.listUserRoles == nil || ps.listUserGroups == nil || ps.rolesOf == nil {
		return ErrAdapterNotInitialized
	}
	if ps.insertUser == nil || ps.upsertUserByID == nil || ps.deleteUserRoles == nil || ps.putUserRole == nil {
		return ErrAdapterNotInitialized
	}
	if ps.putGroup == nil || ps.deleteGroupRoles == nil || ps.putGroupRole == nil || ps.deleteUserGroups == nil || ps.putUserGroup == nil {
		return ErrAdapterNotInitialized
	}
	if ps.putAuthEvent == nil || ps.putAuthEventProperty == nil || ps.listAuthEventByUserID == nil || ps.listAuthEventPropByUserID == nil {
		return ErrAdapterNotInitialized
	}

	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
