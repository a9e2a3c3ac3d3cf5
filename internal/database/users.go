package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
)

const userColumns = "id, name, email, password_hash, profile, friends, active, confirm_email, otp, addresses, mfa_settings, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u                                             User
		profile, friends, otp, addresses, mfaSettings []byte
	)

	err := row.Scan(
		&u.Id,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&profile,
		&friends,
		&u.Active,
		&u.ConfirmEmail,
		&otp,
		&addresses,
		&mfaSettings,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	for _, col := range []struct {
		raw []byte
		dst any
	}{
		{profile, &u.Profile},
		{friends, &u.Friends},
		{otp, &u.Otp},
		{addresses, &u.Addresses},
		{mfaSettings, &u.MfaSettings},
	} {
		if err := unmarshalJSON(col.raw, col.dst); err != nil {
			return User{}, err
		}
	}

	return u, nil
}

func (db *PgChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3) RETURNING "+userColumns,
		params.Name,
		strings.ToLower(params.Email),
		params.PasswordHash,
	)

	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, errors.Wrap(err, "insert user")
	}

	return u, nil
}

func (db *PgChatRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userId)

	u, err := scanUser(row)
	if err != nil {
		return User{}, notFound(err, "get user by id")
	}

	return u, nil
}

func (db *PgChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE LOWER(email) = LOWER($1)", email)

	u, err := scanUser(row)
	if err != nil {
		return User{}, notFound(err, "get user by email")
	}

	return u, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (db *PgChatRepository) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users "+
			"WHERE active AND (name ILIKE $1 OR email ILIKE $1) "+
			"ORDER BY name, id LIMIT $2",
		pattern,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "search users")
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		users = append(users, u)
	}

	return users, errors.Wrap(rows.Err(), "iterate users")
}

func (db *PgChatRepository) UpdateUser(ctx context.Context, params UpdateUserParams) (User, error) {
	var email *string
	if params.Email != nil {
		lowered := strings.ToLower(*params.Email)
		email = &lowered
	}

	var addresses *string
	if params.Addresses != nil {
		encoded, err := marshalJSON(params.Addresses)
		if err != nil {
			return User{}, err
		}
		addresses = &encoded
	}

	row := db.conn.QueryRowContext(ctx,
		"UPDATE users SET name = COALESCE($2, name), email = COALESCE($3, email), "+
			"addresses = COALESCE($4::jsonb, addresses), updated_at = NOW() "+
			"WHERE id = $1 RETURNING "+userColumns,
		params.UserId,
		params.Name,
		email,
		addresses,
	)

	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, notFound(err, "update user")
	}

	return u, nil
}

func (db *PgChatRepository) UpdatePassword(ctx context.Context, userId int, passwordHash string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1",
		userId,
		passwordHash,
	)
	if err != nil {
		return errors.Wrap(err, "update password")
	}

	return requireAffected(res)
}

func (db *PgChatRepository) UpdateProfile(ctx context.Context, userId int, profile Profile) (User, error) {
	encoded, err := marshalJSON(profile)
	if err != nil {
		return User{}, err
	}

	row := db.conn.QueryRowContext(ctx,
		"UPDATE users SET profile = $2::jsonb, updated_at = NOW() WHERE id = $1 RETURNING "+userColumns,
		userId,
		encoded,
	)

	u, err := scanUser(row)
	if err != nil {
		return User{}, notFound(err, "update profile")
	}

	return u, nil
}

func (db *PgChatRepository) DeactivateUser(ctx context.Context, userId int) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE users SET active = FALSE, updated_at = NOW() WHERE id = $1",
		userId,
	)
	if err != nil {
		return errors.Wrap(err, "deactivate user")
	}

	return requireAffected(res)
}

// DeleteUser hard deletes a user. It is only used to roll back a signup
// whose token could not be issued.
func (db *PgChatRepository) DeleteUser(ctx context.Context, userId int) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM users WHERE id = $1", userId)
	if err != nil {
		return errors.Wrap(err, "delete user")
	}

	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
