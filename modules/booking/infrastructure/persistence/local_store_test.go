package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/medtrail/casesync/modules/booking/domain/aggregates/cases"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	db, err := OpenLocalDB(filepath.Join(t.TempDir(), "cases.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewLocalStore(db)
	require.NoError(t, err)
	return store
}

func testCase(t *testing.T) cases.Case {
	t.Helper()
	return cases.New(cases.CreateDTO{
		Country:         "SG",
		Hospital:        "General Hospital",
		Department:      "Orthopaedics",
		DateOfSurgery:   "2026-09-15",
		ProcedureType:   "Knee Replacement",
		DoctorName:      "Dr. Tan",
		TimeOfProcedure: "09:30",
		SubmittedBy:     "alice",
	}, time.Now().Truncate(time.Millisecond).UTC())
}

func TestLocalStore_UpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := testCase(t)

	require.NoError(t, store.Upsert(ctx, c))

	got, err := store.GetByID(ctx, c.ID())
	require.NoError(t, err)
	require.Equal(t, c.ID(), got.ID())
	require.Equal(t, c.ClientToken(), got.ClientToken())
	require.Equal(t, cases.StatusBooked, got.Status())
	require.Len(t, got.StatusHistory(), 1)
	require.True(t, got.IsProvisional())

	// upsert overwrites on id
	c.SetNeedsSync(true)
	require.NoError(t, store.Upsert(ctx, c))
	got, err = store.GetByID(ctx, c.ID())
	require.NoError(t, err)
	require.True(t, got.NeedsSync())
}

func TestLocalStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetByID(context.Background(), "nope")
	require.ErrorIs(t, err, cases.ErrCaseNotFound)
}

func TestLocalStore_RoundTripsHistoryAndAmendments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := testCase(t)

	base := time.Now().Truncate(time.Millisecond).UTC()
	require.True(t, c.RecordStatus(cases.StatusHistoryEntry{
		Status: cases.StatusOrderPreparation, Timestamp: base.Add(time.Hour), Actor: "ops",
		Details: "order drafted", Attachments: []string{"photo-1.jpg"},
	}))
	hospital := "Mount Hope"
	_, err := c.Amend(cases.AmendPatch{Hospital: &hospital, Reason: "transfer", Actor: "alice"}, base.Add(2*time.Hour), false)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, c))
	got, err := store.GetByID(ctx, c.ID())
	require.NoError(t, err)

	require.Len(t, got.StatusHistory(), 2)
	require.Equal(t, []string{"photo-1.jpg"}, got.StatusHistory()[1].Attachments)
	require.Len(t, got.AmendmentHistory(), 1)
	require.Equal(t, "transfer", got.AmendmentHistory()[0].Reason)
	require.True(t, got.IsAmended())
	require.NotNil(t, got.OriginalValues())
	require.Equal(t, "General Hospital", got.OriginalValues().Hospital)
	require.Equal(t, "Mount Hope", got.Hospital())
}

func TestLocalStore_ListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testCase(t)
	require.NoError(t, store.Upsert(ctx, a))

	b := cases.New(cases.CreateDTO{
		Country: "MY", Hospital: "KL Medical", Department: "Cardiology",
		DateOfSurgery: "2026-10-01", ProcedureType: "Bypass", DoctorName: "Dr. Lim",
		TimeOfProcedure: "14:00", SubmittedBy: "bob",
	}, time.Now())
	b.SetNeedsSync(true)
	require.NoError(t, store.Upsert(ctx, b))

	all, err := store.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	sg, err := store.List(ctx, &cases.FindParams{Country: "SG"})
	require.NoError(t, err)
	require.Len(t, sg, 1)
	require.Equal(t, a.ID(), sg[0].ID())

	needy := true
	flagged, err := store.List(ctx, &cases.FindParams{NeedsSync: &needy})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	require.Equal(t, b.ID(), flagged[0].ID())

	byDoctor, err := store.List(ctx, &cases.FindParams{Q: "Lim"})
	require.NoError(t, err)
	require.Len(t, byDoctor, 1)
	require.Equal(t, b.ID(), byDoctor[0].ID())

	none, err := store.List(ctx, &cases.FindParams{Status: cases.StatusCaseClosed})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestLocalStore_SetNeedsSync(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := testCase(t)
	require.NoError(t, store.Upsert(ctx, c))

	require.NoError(t, store.SetNeedsSync(ctx, c.ID(), true))
	got, err := store.GetByID(ctx, c.ID())
	require.NoError(t, err)
	require.True(t, got.NeedsSync())

	require.ErrorIs(t, store.SetNeedsSync(ctx, "nope", true), cases.ErrCaseNotFound)
}

func TestLocalStore_PromoteSwapsSnapshots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := testCase(t)
	require.NoError(t, store.Upsert(ctx, c))

	provisionalID := c.ID()
	c.Promote("42", "TMC-SG-000042")
	require.NoError(t, store.Promote(ctx, provisionalID, c))

	_, err := store.GetByID(ctx, provisionalID)
	require.ErrorIs(t, err, cases.ErrCaseNotFound)

	got, err := store.GetByID(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "TMC-SG-000042", got.ReferenceNumber())
	require.False(t, got.IsProvisional())

	all, err := store.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestLocalStore_UpsertPropagatesDBErrors(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	mock.ExpectExec("INSERT INTO cases").WillReturnError(sqlmock.ErrCancelled)

	store := &LocalStore{db: sqlx.NewDb(mockDB, "sqlmock")}
	err = store.Upsert(context.Background(), testCase(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert case")
	require.NoError(t, mock.ExpectationsWereMet())
}
