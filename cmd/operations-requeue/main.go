// Command operations-requeue moves failed fulfillment operations back to
// pending so the sweeper picks them up again. Run with -id to requeue a
// single operation, or bare to requeue everything in failed state.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/inboundr/art-framer-sub005/config"
	"github.com/inboundr/art-framer-sub005/models"
)

func main() {
	var (
		id     = flag.String("id", "", "requeue only this operation id")
		dryRun = flag.Bool("dry-run", false, "list matching operations without changing them")
	)
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()

	query := db.Model(&models.RetryableOperation{}).
		Where("status = ?", models.OperationStatusFailed)
	if *id != "" {
		query = query.Where("id = ?", *id)
	}

	var ops []models.RetryableOperation
	if err := query.Find(&ops).Error; err != nil {
		log.Fatalf("listing failed operations: %v", err)
	}
	if len(ops) == 0 {
		fmt.Println("no failed operations match")
		return
	}

	for _, op := range ops {
		lastError := ""
		if op.LastError != nil {
			lastError = *op.LastError
		}
		fmt.Printf("%s  type=%s order=%d attempts=%d last_error=%q\n",
			op.ID, op.Type, op.OrderId, op.Attempts, lastError)
	}
	if *dryRun {
		return
	}

	now := time.Now().UTC()
	update := db.Model(&models.RetryableOperation{}).
		Where("status = ?", models.OperationStatusFailed)
	if *id != "" {
		update = update.Where("id = ?", *id)
	}
	res := update.Updates(map[string]any{
		"status":        models.OperationStatusPending,
		"attempts":      0,
		"next_retry_at": now,
		"last_error":    nil,
		"locked_at":     nil,
		"locked_by":     nil,
	})
	if res.Error != nil {
		log.Fatalf("requeue failed: %v", res.Error)
	}
	fmt.Printf("requeued %d operation(s)\n", res.RowsAffected)
}
