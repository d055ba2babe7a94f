package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/graphfleet/internal/model"
)

// scanInstance writes a fixed instance row into scan destinations.
func scanInstance(inst model.Instance) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = inst.ID
		*dest[1].(*string) = inst.NodeType
		*dest[2].(*string) = inst.Tier
		*dest[3].(*string) = inst.Region
		*dest[4].(*string) = inst.Endpoint
		*dest[5].(*string) = inst.Status
		*dest[6].(**string) = inst.Repository
		*dest[7].(*int) = inst.DatabaseCount
		*dest[8].(*int) = inst.MaxDatabases
		*dest[9].(*float64) = inst.AvailableCapacityPct
		*dest[10].(*string) = inst.ClusterGroup
		*dest[11].(**time.Time) = inst.LastHealthCheck
		*dest[12].(*time.Time) = inst.CreatedAt
		*dest[13].(*time.Time) = inst.UpdatedAt
		return nil
	}
}

// ---------- GetByID ----------

func TestInstanceGetByID(t *testing.T) {
	db := new(mockDB)
	svc := NewInstanceRegistry(db)

	want := model.Instance{
		ID:       "i-001",
		NodeType: model.NodeTypeWriter,
		Tier:     "standard",
		Region:   "eu-north-1",
		Endpoint: "10.0.1.5:7474",
		Status:   model.InstanceHealthy,
	}

	db.On("QueryRow", mock.Anything, mock.Anything, []any{"i-001"}).
		Return(&mockRow{scanFunc: scanInstance(want)})

	got, err := svc.GetByID(context.Background(), "i-001")
	require.NoError(t, err)
	assert.Equal(t, "i-001", got.ID)
	assert.Equal(t, model.InstanceHealthy, got.Status)
	assert.Equal(t, "10.0.1.5:7474", got.Endpoint)
	db.AssertExpectations(t)
}

func TestInstanceGetByID_NotFound(t *testing.T) {
	db := new(mockDB)
	svc := NewInstanceRegistry(db)

	db.On("QueryRow", mock.Anything, mock.Anything, []any{"i-missing"}).
		Return(&mockRow{scanFunc: func(dest ...any) error { return fmt.Errorf("no rows in result set") }})

	_, err := svc.GetByID(context.Background(), "i-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get instance i-missing")
}

// ---------- Transition ----------

func TestInstanceTransition_Won(t *testing.T) {
	db := new(mockDB)
	svc := NewInstanceRegistry(db)

	db.On("Exec", mock.Anything, mock.Anything,
		[]any{model.InstanceDraining, "i-001", model.InstanceHealthy}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	won, err := svc.Transition(context.Background(), "i-001", model.InstanceHealthy, model.InstanceDraining)
	require.NoError(t, err)
	assert.True(t, won)
	db.AssertExpectations(t)
}

func TestInstanceTransition_Lost(t *testing.T) {
	db := new(mockDB)
	svc := NewInstanceRegistry(db)

	// Another writer already moved the row out of healthy.
	db.On("Exec", mock.Anything, mock.Anything,
		[]any{model.InstanceDraining, "i-001", model.InstanceHealthy}).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	won, err := svc.Transition(context.Background(), "i-001", model.InstanceHealthy, model.InstanceDraining)
	require.NoError(t, err)
	assert.False(t, won)
}

// ---------- FindPlacementCandidate ----------

func TestFindPlacementCandidate_PicksMostAvailable(t *testing.T) {
	db := new(mockDB)
	svc := NewInstanceRegistry(db)

	want := model.Instance{ID: "i-002", NodeType: model.NodeTypeWriter, Status: model.InstanceHealthy, AvailableCapacityPct: 80}

	db.On("Query", mock.Anything, mock.Anything, []any{"large"}).
		Return(newMockRows(scanInstance(want)), nil)

	got, err := svc.FindPlacementCandidate(context.Background(), "large")
	require.NoError(t, err)
	assert.Equal(t, "i-002", got.ID)
}

func TestFindPlacementCandidate_NoneAvailable(t *testing.T) {
	db := new(mockDB)
	svc := NewInstanceRegistry(db)

	db.On("Query", mock.Anything, mock.Anything, []any{}).
		Return(newEmptyMockRows(), nil)

	_, err := svc.FindPlacementCandidate(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no healthy writer with capacity")
}

// ---------- FindStaleHeartbeats ----------

func TestFindStaleHeartbeats(t *testing.T) {
	db := new(mockDB)
	svc := NewInstanceRegistry(db)

	stale := model.Instance{ID: "i-007", Status: model.InstanceHealthy}

	db.On("Query", mock.Anything, mock.Anything, []any{"300 seconds"}).
		Return(newMockRows(scanInstance(stale)), nil)

	got, err := svc.FindStaleHeartbeats(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "i-007", got[0].ID)
}

// ---------- RecordHealth ----------

func TestRecordHealth(t *testing.T) {
	db := new(mockDB)
	svc := NewInstanceRegistry(db)

	now := time.Now()
	h := &model.InstanceHealth{
		InstanceID:           "i-001",
		Status:               model.InstanceHealthy,
		DatabaseCount:        12,
		AvailableCapacityPct: 76,
		ReportedAt:           now,
	}

	db.On("Exec", mock.Anything, mock.Anything,
		[]any{model.InstanceHealthy, 12, 76.0, now, "i-001"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, svc.RecordHealth(context.Background(), h))
	db.AssertExpectations(t)
}
