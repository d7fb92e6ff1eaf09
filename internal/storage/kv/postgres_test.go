package kv

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	value string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.value
	return nil
}

// fakeDB emulates the kv table.
type fakeDB struct {
	rows    map[string]string
	execs   []string
	execErr error
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, sql)
	if db.execErr != nil {
		return pgconn.CommandTag{}, db.execErr
	}
	if strings.HasPrefix(sql, "INSERT") {
		db.rows[args[0].(string)] = args[1].(string)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (db *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	v, ok := db.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{value: v}
}

func TestPostgresStore(t *testing.T) {
	db := &fakeDB{rows: make(map[string]string)}
	closed := false
	s := NewPostgresStore(db, func() { closed = true })

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.Contains(t, db.execs[0], "CREATE TABLE IF NOT EXISTS")

	exerciseStore(t, s)

	require.NoError(t, s.Close())
	assert.True(t, closed)
}

func TestPostgresStore_Errors(t *testing.T) {
	db := &fakeDB{rows: make(map[string]string), execErr: errors.New("conn reset")}
	s := NewPostgresStore(db, nil)

	assert.Error(t, s.Set(context.Background(), KeyCashBalance, "1"))
	assert.Error(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, s.Close())
}
