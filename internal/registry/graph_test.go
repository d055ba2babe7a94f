package registry

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/graphfleet/internal/model"
)

func scanAssignment(a model.GraphAssignment) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = a.GraphID
		*dest[1].(*string) = a.InstanceID
		*dest[2].(*string) = a.EntityID
		*dest[3].(*string) = a.RepositoryType
		*dest[4].(*string) = a.Status
		*dest[5].(**string) = a.MigrationSource
		*dest[6].(*string) = a.CurrentRegion
		*dest[7].(*string) = a.ReplicationStatus
		*dest[8].(**time.Time) = a.LastAccessed
		*dest[9].(*time.Time) = a.CreatedAt
		*dest[10].(*time.Time) = a.UpdatedAt
		return nil
	}
}

// ---------- GetByGraphID ----------

func TestGraphGetByGraphID(t *testing.T) {
	db := new(mockDB)
	svc := NewGraphRegistry(db)

	want := model.GraphAssignment{
		GraphID:        "kg_abc123",
		InstanceID:     "i-001",
		EntityID:       "ent-1",
		RepositoryType: model.RepositoryTenant,
		Status:         model.AssignmentActive,
	}

	db.On("QueryRow", mock.Anything, mock.Anything, []any{"kg_abc123"}).
		Return(&mockRow{scanFunc: scanAssignment(want)})

	got, err := svc.GetByGraphID(context.Background(), "kg_abc123")
	require.NoError(t, err)
	assert.Equal(t, "i-001", got.InstanceID)
	assert.Equal(t, model.AssignmentActive, got.Status)
}

// ---------- MarkMigrationRequired ----------

func TestMarkMigrationRequired_CountsRows(t *testing.T) {
	db := new(mockDB)
	svc := NewGraphRegistry(db)

	db.On("Exec", mock.Anything, mock.Anything, []any{"i-001"}).
		Return(pgconn.NewCommandTag("UPDATE 3"), nil)

	n, err := svc.MarkMigrationRequired(context.Background(), "i-001")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	db.AssertExpectations(t)
}

// ---------- ClaimForMigration ----------

func TestClaimForMigration_WonAndLost(t *testing.T) {
	db := new(mockDB)
	svc := NewGraphRegistry(db)

	db.On("Exec", mock.Anything, mock.Anything, []any{"kg_a"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	db.On("Exec", mock.Anything, mock.Anything, []any{"kg_a"}).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()

	won, err := svc.ClaimForMigration(context.Background(), "kg_a")
	require.NoError(t, err)
	assert.True(t, won)

	// A second claim on the same graph loses the compare-and-set.
	won, err = svc.ClaimForMigration(context.Background(), "kg_a")
	require.NoError(t, err)
	assert.False(t, won)
}

// ---------- CompleteMigration ----------

func TestCompleteMigration(t *testing.T) {
	db := new(mockDB)
	svc := NewGraphRegistry(db)

	db.On("Exec", mock.Anything, mock.Anything, []any{"i-002", "kg_a"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	won, err := svc.CompleteMigration(context.Background(), "kg_a", "i-002")
	require.NoError(t, err)
	assert.True(t, won)
}

// ---------- ListMigrationRequired ----------

func TestListMigrationRequired(t *testing.T) {
	db := new(mockDB)
	svc := NewGraphRegistry(db)

	src := "i-001"
	a := model.GraphAssignment{GraphID: "kg_a", InstanceID: "i-001", Status: model.AssignmentMigrationRequired, MigrationSource: &src}
	b := model.GraphAssignment{GraphID: "kg_b", InstanceID: "i-001", Status: model.AssignmentMigrationRequired, MigrationSource: &src}

	db.On("Query", mock.Anything, mock.Anything, []any{25}).
		Return(newMockRows(scanAssignment(a), scanAssignment(b)), nil)

	got, err := svc.ListMigrationRequired(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "kg_a", got[0].GraphID)
	require.NotNil(t, got[1].MigrationSource)
	assert.Equal(t, "i-001", *got[1].MigrationSource)
}

// ---------- ListByInstance ----------

func TestListByInstance_Empty(t *testing.T) {
	db := new(mockDB)
	svc := NewGraphRegistry(db)

	db.On("Query", mock.Anything, mock.Anything, []any{"i-009"}).
		Return(newEmptyMockRows(), nil)

	got, err := svc.ListByInstance(context.Background(), "i-009")
	require.NoError(t, err)
	assert.Empty(t, got)
}
