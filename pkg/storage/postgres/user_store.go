package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/porthorian/sessionauth/pkg/authz"
	"github.com/porthorian/sessionauth/pkg/storage"
)

const (
	findUserByLoginQuery = `
SELECT
  id, login, display_name, password_digest, date_added, date_modified
FROM sessionauth.app_user
WHERE login = $1
`

	findUserByIDQuery = `
SELECT
  id, login, display_name, password_digest, date_added, date_modified
FROM sessionauth.app_user
WHERE id = $1
`

	listUserRolesQuery = `
SELECT role
FROM sessionauth.user_role
WHERE user_id = $1
ORDER BY role
`

	listUserGroupsQuery = `
SELECT
  g.id, g.name, gr.role
FROM sessionauth.user_group ug
JOIN sessionauth.app_group g ON g.id = ug.group_id
LEFT JOIN sessionauth.group_role gr ON gr.group_id = g.id
WHERE ug.user_id = $1
ORDER BY g.name, gr.role
`

	rolesOfQuery = `
SELECT role FROM sessionauth.user_role WHERE user_id = $1
UNION
SELECT gr.role
FROM sessionauth.user_group ug
JOIN sessionauth.group_role gr ON gr.group_id = ug.group_id
WHERE ug.user_id = $1
`

	insertUserQuery = `
INSERT INTO sessionauth.app_user (
  login, display_name, password_digest, date_added
) VALUES ($1, $2, $3, $4)
ON CONFLICT (login) DO UPDATE
SET
  display_name = EXCLUDED.display_name,
  password_digest = EXCLUDED.password_digest,
  date_modified = $5
RETURNING id, date_added, date_modified
`

	upsertUserByIDQuery = `
INSERT INTO sessionauth.app_user (
  id, login, display_name, password_digest, date_added
) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET
  login = EXCLUDED.login,
  display_name = EXCLUDED.display_name,
  password_digest = EXCLUDED.password_digest,
  date_modified = $6
RETURNING id, date_added, date_modified
`

	deleteUserRolesQuery = `DELETE FROM sessionauth.user_role WHERE user_id = $1`

	putUserRoleQuery = `
INSERT INTO sessionauth.user_role (user_id, role) VALUES ($1, $2)
ON CONFLICT DO NOTHING
`

	putGroupQuery = `
INSERT INTO sessionauth.app_group (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id
`

	deleteGroupRolesQuery = `DELETE FROM sessionauth.group_role WHERE group_id = $1`

	putGroupRoleQuery = `
INSERT INTO sessionauth.group_role (group_id, role) VALUES ($1, $2)
ON CONFLICT DO NOTHING
`

	deleteUserGroupsQuery = `DELETE FROM sessionauth.user_group WHERE user_id = $1`

	putUserGroupQuery = `
INSERT INTO sessionauth.user_group (user_id, group_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING
`
)

func (a *Adapter) FindByLogin(ctx context.Context, login string) (storage.UserRecord, bool, error) {
	return a.findUser(ctx, func(ps *preparedStatements) *sql.Stmt { return ps.findUserByLogin }, login)
}

func (a *Adapter) FindByID(ctx context.Context, id int64) (storage.UserRecord, bool, error) {
	return a.findUser(ctx, func(ps *preparedStatements) *sql.Stmt { return ps.findUserByID }, id)
}

func (a *Adapter) findUser(ctx context.Context, pick func(*preparedStatements) *sql.Stmt, key any) (storage.UserRecord, bool, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.UserRecord{}, false, err
	}

	stmt, release := a.stmt(ctx, pick(a.stmts))
	defer release()

	record, err := scanUser(stmt.QueryRowContext(ctx, key))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.UserRecord{}, false, nil
	}
	if err != nil {
		return storage.UserRecord{}, false, err
	}

	if record.Roles, err = a.listUserRoles(ctx, record.ID); err != nil {
		return storage.UserRecord{}, false, err
	}
	if record.Groups, err = a.listUserGroups(ctx, record.ID); err != nil {
		return storage.UserRecord{}, false, err
	}

	return record, true, nil
}

// RolesOf resolves roles from the database rather than from record, so a
// stale record cannot grant roles that were revoked since it was loaded.
func (a *Adapter) RolesOf(ctx context.Context, record storage.UserRecord) ([]string, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, err
	}

	stmt, release := a.stmt(ctx, a.stmts.rolesOf)
	defer release()

	rows, err := stmt.QueryContext(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return authz.NormalizeRoles(roles), nil
}

// PutUser upserts the user and replaces its direct roles and group
// memberships. Groups carrying a non-nil Roles slice also have their roles
// replaced.
func (a *Adapter) PutUser(ctx context.Context, record storage.UserRecord) (storage.UserRecord, error) {
	if record.Login == "" {
		return storage.UserRecord{}, ErrLoginRequired
	}

	record = storage.CloneUserRecord(record)
	err := a.WithTx(ctx, func(tx *Adapter) error {
		return tx.putUserInTx(ctx, &record)
	})
	if err != nil {
		return storage.UserRecord{}, err
	}
	return record, nil
}

func (a *Adapter) putUserInTx(ctx context.Context, record *storage.UserRecord) error {
	now := time.Now().UTC()
	dateAdded := record.DateAdded
	if dateAdded.IsZero() {
		dateAdded = now
	}

	var row *sql.Row
	if record.ID == 0 {
		stmt, release := a.stmt(ctx, a.stmts.insertUser)
		row = stmt.QueryRowContext(ctx, record.Login, record.DisplayName, record.PasswordDigest, dateAdded, now)
		defer release()
	} else {
		stmt, release := a.stmt(ctx, a.stmts.upsertUserByID)
		row = stmt.QueryRowContext(ctx, record.ID, record.Login, record.DisplayName, record.PasswordDigest, dateAdded, now)
		defer release()
	}

	var dateModified sql.NullTime
	if err := row.Scan(&record.ID, &record.DateAdded, &dateModified); err != nil {
		return err
	}
	record.DateAdded = record.DateAdded.UTC()
	record.DateModified = nil
	if dateModified.Valid {
		t := dateModified.Time.UTC()
		record.DateModified = &t
	}

	if err := a.exec(ctx, a.stmts.deleteUserRoles, record.ID); err != nil {
		return err
	}
	for _, role := range authz.NormalizeRoles(record.Roles) {
		if err := a.exec(ctx, a.stmts.putUserRole, record.ID, role); err != nil {
			return err
		}
	}

	if err := a.exec(ctx, a.stmts.deleteUserGroups, record.ID); err != nil {
		return err
	}
	for i := range record.Groups {
		group := &record.Groups[i]

		stmt, release := a.stmt(ctx, a.stmts.putGroup)
		err := stmt.QueryRowContext(ctx, group.Name).Scan(&group.ID)
		release()
		if err != nil {
			return err
		}

		if group.Roles != nil {
			if err := a.exec(ctx, a.stmts.deleteGroupRoles, group.ID); err != nil {
				return err
			}
			for _, role := range authz.NormalizeRoles(group.Roles) {
				if err := a.exec(ctx, a.stmts.putGroupRole, group.ID, role); err != nil {
					return err
				}
			}
		}

		if err := a.exec(ctx, a.stmts.putUserGroup, record.ID, group.ID); err != nil {
			return err
		}
	}

	return nil
}

func (a *Adapter) listUserRoles(ctx context.Context, userID int64) ([]string, error) {
	stmt, release := a.stmt(ctx, a.stmts.listUserRoles)
	defer release()

	rows, err := stmt.QueryContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

func (a *Adapter) listUserGroups(ctx context.Context, userID int64) ([]storage.GroupRecord, error) {
	stmt, release := a.stmt(ctx, a.stmts.listUserGroups)
	defer release()

	rows, err := stmt.QueryContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []storage.GroupRecord{}
	for rows.Next() {
		var (
			id   int64
			name string
			role sql.NullString
		)
		if err := rows.Scan(&id, &name, &role); err != nil {
			return nil, err
		}

		if len(groups) == 0 || groups[len(groups)-1].ID != id {
			groups = append(groups, storage.GroupRecord{ID: id, Name: name, Roles: []string{}})
		}
		if role.Valid {
			last := &groups[len(groups)-1]
			last.Roles = append(last.Roles, role.String)
		}
	}

	return groups, rows.Err()
}

func (a *Adapter) exec(ctx context.Context, prepared *sql.Stmt, args ...any) error {
	stmt, release := a.stmt(ctx, prepared)
	defer release()

	_, err := stmt.ExecContext(ctx, args...)
	return err
}

func scanUser(s scanner) (storage.UserRecord, error) {
	var (
		record       storage.UserRecord
		dateModified sql.NullTime
	)

	if err := s.Scan(
		&record.ID,
		&record.Login,
		&record.DisplayName,
		&record.PasswordDigest,
		&record.DateAdded,
		&dateModified,
	); err != nil {
		return storage.UserRecord{}, err
	}

	record.DateAdded = record.DateAdded.UTC()
	if dateModified.Valid {
		t := dateModified.Time.UTC()
		record.DateModified = &t
	}

	return record, nil
}
