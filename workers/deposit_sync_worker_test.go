package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"competition-protocol/models"
	"competition-protocol/services"
	"competition-protocol/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := utils.OpenDatabase(utils.DatabaseOptions{Driver: "sqlite", DSN: dsn, Quiet: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func TestDepositSyncCreditsOnce(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/v1/public/deposits", r.URL.Path)
		assert.Equal(t, "svc-token", r.Header.Get("X-Service-Token"))
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		json.NewEncoder(w).Encode(map[string]any{
			"deposits": []map[string]any{
				{"id": "dep-1", "account": "alice", "token": "VOTE", "amount": 500, "chain": "base", "tx_hash": "0xabc"},
				{"id": "dep-2", "account": "bob", "token": "VOTE", "amount": 250},
			},
		})
	}))
	defer srv.Close()

	db := newTestDB(t)
	custody := services.NewLedgerCustody(db)
	worker := NewDepositSyncWorker(db, custody, srv.URL, "svc-token", time.Second)
	ctx := context.Background()

	require.NoError(t, worker.SyncOnce(ctx, time.Now().Add(-time.Hour)))
	// the sync service reports the same deposits again; nothing is credited twice
	require.NoError(t, worker.SyncOnce(ctx, time.Now().Add(-time.Hour)))
	assert.Equal(t, 2, calls)

	alice, err := custody.BalanceOf(ctx, "VOTE", "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), alice)
	bob, err := custody.BalanceOf(ctx, "VOTE", "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), bob)

	var deposits []models.Deposit
	require.NoError(t, db.Order("id").Find(&deposits).Error)
	require.Len(t, deposits, 2)
	for _, d := range deposits {
		assert.True(t, d.Credited)
		assert.NotNil(t, d.CreditedAt)
	}
}

func TestDepositSyncServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	db := newTestDB(t)
	worker := NewDepositSyncWorker(db, services.NewLedgerCustody(db), srv.URL, "svc-token", time.Second)
	err := worker.SyncOnce(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestDepositSyncRunStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	worker := NewDepositSyncWorker(db, services.NewLedgerCustody(db), "http://127.0.0.1:0", "svc-token", time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
