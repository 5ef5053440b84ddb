package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quarterhill/stockledger/internal/adapter/storage"
	"github.com/quarterhill/stockledger/internal/core/domain"
	"github.com/quarterhill/stockledger/internal/core/service"
)

// stockdrill hammers the poster with concurrent consumptions and verifies
// exact depletion: with on-hand N and N+extra concurrent requests, exactly N
// succeed and the ledger folds to zero with no negative excursion.
const (
	mysqlDSN      = "root:root@tcp(localhost:3306)/stockledger?parseTime=true"
	redisAddr     = "localhost:6379"
	initialStock  = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb)

	itemID := "drill-item-" + uuid.New().String()
	locationID := "drill-loc-" + uuid.New().String()
	seed(ctx, mysqlAdapter, itemID, locationID)

	gate := service.NewGate()
	agg := service.NewAggregator(mysqlAdapter, mysqlAdapter, redisAdapter, 30*time.Second, zap.NewNop())
	poster := service.NewPoster(mysqlAdapter, mysqlAdapter, redisAdapter, agg, gate, service.PosterConfig{}, zap.NewNop())

	qty := decimal.NewFromInt(initialStock)
	if _, err := poster.Post(ctx, service.TransactionInput{
		ItemID:     itemID,
		LocationID: locationID,
		EventType:  domain.EventReceipt,
		QtyBase:    &qty,
		SourceDoc:  "drill-seed",
		PostedBy:   "stockdrill",
	}); err != nil {
		log.Fatalf("failed to seed stock: %v", err)
	}

	var successCount, failCount atomic.Int32
	var wg sync.WaitGroup
	one := decimal.NewFromInt(1)
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := poster.Post(ctx, service.TransactionInput{
				RequestID:  uuid.New().String(),
				ItemID:     itemID,
				LocationID: locationID,
				EventType:  domain.EventConsumption,
				QtyBase:    &one,
				SourceDoc:  "drill-run",
				PostedBy:   "stockdrill",
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STOCK DRILL RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("=========================================")

	if success == initialStock && fail == totalRequests-initialStock {
		fmt.Printf("PASS: exactly %d consumptions succeeded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	onHand, err := agg.OnHand(ctx, service.OnHandQuery{ItemID: itemID, LocationID: locationID})
	if err != nil {
		log.Fatalf("failed to fold on-hand: %v", err)
	}
	fmt.Printf("Final On-Hand: %s\n", onHand)
	if onHand.IsZero() {
		fmt.Println("PASS: stock depleted to 0")
	} else {
		fmt.Printf("FAIL: expected on-hand 0, got %s\n", onHand)
	}
}

func seed(ctx context.Context, catalog *storage.MySQLAdapter, itemID, locationID string) {
	now := time.Now().UTC()
	if err := catalog.CreateItem(ctx, domain.Item{
		ID:        itemID,
		SKU:       itemID,
		Name:      "drill item",
		Type:      domain.ItemTypeConsumable,
		BaseUnit:  "each",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		log.Fatalf("failed to create item: %v", err)
	}
	if err := catalog.CreateLocation(ctx, domain.Location{
		ID:           locationID,
		DepartmentID: "drill-dept",
		Name:         "drill location",
	}); err != nil {
		log.Fatalf("failed to create location: %v", err)
	}
}
