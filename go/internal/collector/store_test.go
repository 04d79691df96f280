package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlobba/lwb-cc2538/go/internal/report"
	"github.com/dlobba/lwb-cc2538/go/internal/round"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func TestPostgresStoreMigrate(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewPostgresStore(db).Migrate(context.Background()))
	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].sql, "CREATE TABLE IF NOT EXISTS glossy_rounds")
}

func TestPostgresStoreInsertsRound(t *testing.T) {
	db := &fakeDB{}
	store := NewPostgresStore(db)

	runID := uuid.New()
	diff := uint32(8190)
	r := round.Report{
		NodeID: 3, Role: round.RoleReceiver, SeqNo: 42,
		Synced: true, Received: true,
		RxCount: 2, TxCount: 2, RelayCntFirstRx: 1,
		RefTime: 327680, EpochDiff: &diff, BootstrapAttempts: 1,
	}
	env, err := report.NewRoundEnvelope(runID, r, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, store.Store(context.Background(), env, r))
	require.Len(t, db.calls, 1)

	call := db.calls[0]
	assert.Contains(t, call.sql, "ON CONFLICT (event_id) DO NOTHING")
	require.Len(t, call.args, 15)
	assert.Equal(t, uuid.MustParse(env.EventID), call.args[0])
	assert.Equal(t, runID, call.args[1])
	assert.Equal(t, int32(3), call.args[2])
	assert.Equal(t, "receiver", call.args[3])
	assert.Equal(t, int64(42), call.args[4])
	require.IsType(t, (*int64)(nil), call.args[12])
	assert.Equal(t, int64(8190), *call.args[12].(*int64))
}

func TestPostgresStoreNullEpochDiff(t *testing.T) {
	db := &fakeDB{}
	r := round.Report{NodeID: 1, Role: round.RoleInitiator}
	env, err := report.NewRoundEnvelope(uuid.New(), r, time.Now())
	require.NoError(t, err)

	require.NoError(t, NewPostgresStore(db).Store(context.Background(), env, r))
	assert.Nil(t, db.calls[0].args[12])
}

func TestPostgresStoreErrors(t *testing.T) {
	r := round.Report{NodeID: 1, Role: round.RoleInitiator}

	err := NewPostgresStore(&fakeDB{}).Store(context.Background(), report.Envelope{EventID: "nope"}, r)
	assert.ErrorContains(t, err, "parse event id")

	boom := errors.New("connection refused")
	env, err := report.NewRoundEnvelope(uuid.New(), r, time.Now())
	require.NoError(t, err)
	err = NewPostgresStore(&fakeDB{err: boom}).Store(context.Background(), env, r)
	assert.ErrorIs(t, err, boom)
}
