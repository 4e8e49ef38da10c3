package postgres

import (
	"context"
	"testing"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEscrow() *domain.EscrowRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.NewEscrowRecord(uuid.New(), uuid.New(), uuid.New(), 500, "two logo drafts", now, 0)
}

func escrowColumnNames() []string {
	return []string{"id", "client_id", "freelancer_id", "service_id", "amount", "terms", "status",
		"dispute_reason", "created_at", "auto_release_at", "accepted_at", "resolved_at", "updated_at"}
}

func escrowRow(rows *pgxmock.Rows, e *domain.EscrowRecord) *pgxmock.Rows {
	return rows.AddRow(
		e.ID, e.ClientID, e.FreelancerID, e.ServiceID,
		e.Amount, e.Terms, e.Status, e.DisputeReason,
		e.CreatedAt, e.AutoReleaseAt, e.AcceptedAt, e.ResolvedAt, e.UpdatedAt,
	)
}

func TestEscrowRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e := newTestEscrow()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO escrows").
		WithArgs(e.ID, e.ClientID, e.FreelancerID, e.ServiceID,
			e.Amount, e.Terms, e.Status, e.DisputeReason,
			e.CreatedAt, e.AutoReleaseAt, e.AcceptedAt, e.ResolvedAt, e.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Create(context.Background(), tx, e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e := newTestEscrow()
	reason := "not delivered"
	e.Status = domain.EscrowStatusDisputed
	e.DisputeReason = &reason

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM escrows WHERE id .+ FOR UPDATE").
		WithArgs(e.ID).
		WillReturnRows(escrowRow(pgxmock.NewRows(escrowColumnNames()), e))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	got, err := repo.GetByIDForUpdate(context.Background(), tx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.EscrowStatusDisputed, got.Status)
	require.NotNil(t, got.DisputeReason)
	assert.Equal(t, reason, *got.DisputeReason)
	assert.Equal(t, e.AutoReleaseAt, got.AutoReleaseAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM escrows WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(escrowColumnNames()))

	got, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_UpdateState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e := newTestEscrow()
	resolved := e.CreatedAt.Add(time.Hour)
	e.Status = domain.EscrowStatusReleased
	e.ResolvedAt = &resolved
	e.UpdatedAt = resolved

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE escrows SET status").
		WithArgs(e.Status, e.DisputeReason, e.AcceptedAt, e.ResolvedAt, e.UpdatedAt, e.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE escrows SET status").
		WithArgs(e.Status, e.DisputeReason, e.AcceptedAt, e.ResolvedAt, e.UpdatedAt, e.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.UpdateState(context.Background(), tx, e))
	err = repo.UpdateState(context.Background(), tx, e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escrow not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_ListDueForRelease(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	now := time.Now().UTC()
	id1, id2 := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT id FROM escrows WHERE status .+ AND auto_release_at <= .+ ORDER BY auto_release_at").
		WithArgs(domain.EscrowStatusHeld, now, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id1).AddRow(id2))

	ids, err := repo.ListDueForRelease(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id1, id2}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_List_ActiveStatuses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e1, e2 := newTestEscrow(), newTestEscrow()

	mock.ExpectQuery("SELECT .+ FROM escrows WHERE status = ANY.+ ORDER BY created_at DESC").
		WithArgs([]string{"held", "disputed"}, 20, 0).
		WillReturnRows(escrowRow(escrowRow(pgxmock.NewRows(escrowColumnNames()), e1), e2))

	list, err := repo.List(context.Background(), ports.EscrowListParams{
		Statuses: []domain.EscrowStatus{domain.EscrowStatusHeld, domain.EscrowStatusDisputed},
		Limit:    20,
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, e1.ID, list[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_List_ByParty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	party := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM escrows WHERE .+client_id = .+ OR freelancer_id = .+ LIMIT .+ OFFSET").
		WithArgs(party, 10, 30).
		WillReturnRows(pgxmock.NewRows(escrowColumnNames()))

	list, err := repo.List(context.Background(), ports.EscrowListParams{PartyID: &party, Limit: 10, Offset: 30})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotNil(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_Stats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM escrows").
		WillReturnRows(pgxmock.NewRows([]string{"active", "held", "disputed", "in_flight", "disputes_open"}).
			AddRow(int64(5), int64(3), int64(2), int64(1250), int64(2)))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &domain.EscrowStats{
		ActiveEscrows: 5, HeldEscrows: 3, DisputedEscrows: 2, CreditsInFlight: 1250, DisputesOpen: 2,
	}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}
