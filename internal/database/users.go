package database

import (
	"context"

	"github.com/google/uuid"
)

const userColumns = `id, outlet_id, email, password_hash, name, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.OutletID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.Role,
		&u.CreatedAt,
	)
	return u, err
}

const createUser = `
INSERT INTO users (outlet_id, email, password_hash, name, role)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + userColumns

type CreateUserParams struct {
	OutletID     uuid.UUID
	Email        string
	PasswordHash string
	Name         string
	Role         string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, createUser,
		arg.OutletID,
		arg.Email,
		arg.PasswordHash,
		arg.Name,
		arg.Role,
	)
	return scanUser(row)
}

const getUserByEmail = `
SELECT ` + userColumns + ` FROM users
WHERE email = $1`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByEmail, email))
}

const getUserByID = `
SELECT ` + userColumns + ` FROM users
WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByID, id))
}

const getUserDisplayName = `
SELECT name FROM users
WHERE id = $1`

func (q *Queries) GetUserDisplayName(ctx context.Context, id uuid.UUID) (string, error) {
	var name string
	err := q.db.QueryRow(ctx, getUserDisplayName, id).Scan(&name)
	return name, err
}
