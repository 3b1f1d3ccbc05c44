// workers/deposit_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"competition-protocol/models"
	"competition-protocol/services"
	"competition-protocol/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DepositSyncWorker mirrors deposits reported by the sync service and credits them to custody
// balances. A deposit is credited exactly once: the credited flag flips in the same transaction
// as the mint.
type DepositSyncWorker struct {
	db           *gorm.DB
	custody      services.TokenCustody
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

type depositsResponse struct {
	Deposits []models.Deposit `json:"deposits"`
}

func NewDepositSyncWorker(db *gorm.DB, custody services.TokenCustody, syncServiceBaseURL, serviceToken string, interval time.Duration) *DepositSyncWorker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &DepositSyncWorker{
		db:           db,
		custody:      custody,
		interval:     interval,
		baseURL:      syncServiceBaseURL,
		endpointPath: "/api/v1/public/deposits",
		serviceToken: serviceToken,
		httpClient:   utils.NewServiceClient(30 * time.Second),
	}
}

// Run polls until ctx is done.
func (w *DepositSyncWorker) Run(ctx context.Context) {
	log.Printf("🔁 [SYNC] deposit polling every %s", w.interval)
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[SYNC] deposit polling stopped.")
			return
		case <-ticker.C:
			startedAt := time.Now().UTC()
			if err := w.SyncOnce(ctx, lastSyncTime); err != nil {
				log.Printf("❌ [SYNC] %v", err)
				// keep the window so the next tick retries it
				continue
			}
			lastSyncTime = startedAt
		}
	}
}

// SyncOnce fetches deposits changed since the given time, stores new ones and credits every
// deposit not yet credited.
func (w *DepositSyncWorker) SyncOnce(ctx context.Context, since time.Time) error {
	deposits, err := w.fetch(ctx, since)
	if err != nil {
		return err
	}
	if len(deposits) > 0 {
		if err := w.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
			Omit("credited", "credited_at").
			Create(&deposits).Error; err != nil {
			return fmt.Errorf("store %d deposit(s): %w", len(deposits), err)
		}
		log.Printf("📥 [SYNC] received %d deposit(s)", len(deposits))
	}
	return w.creditPending(ctx)
}

func (w *DepositSyncWorker) fetch(ctx context.Context, since time.Time) ([]models.Deposit, error) {
	u, err := url.Parse(w.baseURL + w.endpointPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sync service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out depositsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return out.Deposits, nil
}

func (w *DepositSyncWorker) creditPending(ctx context.Context) error {
	var pending []models.Deposit
	if err := w.db.WithContext(ctx).Where("credited = ?", false).Order("created_at ASC").Find(&pending).Error; err != nil {
		return fmt.Errorf("load pending deposits: %w", err)
	}

	credited := 0
	for _, d := range pending {
		err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := time.Now().UTC()
			res := tx.Model(&models.Deposit{}).
				Where("id = ? AND credited = ?", d.ID, false).
				Updates(map[string]interface{}{"credited": true, "credited_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 || d.Amount == 0 {
				return nil
			}
			return w.custody.WithTx(tx).Mint(ctx, d.Token, d.Account, d.Amount)
		})
		if err != nil {
			log.Printf("❌ [SYNC] failed to credit deposit %s: %v", d.ID, err)
			continue
		}
		credited++
	}
	if credited > 0 {
		log.Printf("✅ [SYNC] credited %d deposit(s)", credited)
	}
	return nil
}
