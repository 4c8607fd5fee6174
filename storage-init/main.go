package main

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"github.com/sajor2000/labmanager-sub002/board"
	"github.com/sajor2000/labmanager-sub002/domain"
	"github.com/sajor2000/labmanager-sub002/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx := context.Background()

	if err := createTables(ctx, connStr, []string{
		os.Getenv("ITEMS_TABLE"),
	}); err != nil {
		log.Fatalf("create tables: %v", err)
	}

	if err := createQueues(ctx, connStr, []string{
		os.Getenv("ACTIVITY_QUEUE"),
	}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	if labID := os.Getenv("SEED_LAB_ID"); labID != "" {
		if err := seedLab(ctx, connStr, labID, os.Getenv("SEED_LAB_TITLE")); err != nil {
			log.Fatalf("seed lab: %v", err)
		}
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		c := svc.NewClient(name)
		_, err := c.CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
	}
	return nil
}

// seedLab provisions the root row for a fixed lab id so fresh environments
// come up with a usable board. Re-running against an existing lab is a no-op.
func seedLab(ctx context.Context, connStr, labID, title string) error {
	itemsTable := os.Getenv("ITEMS_TABLE")
	if itemsTable == "" {
		return errors.New("missing ITEMS_TABLE")
	}
	store, err := storage.New(connStr, itemsTable, os.Getenv("ACTIVITY_QUEUE"))
	if err != nil {
		return err
	}
	if _, err := board.New(store, nil, nil).CreateLab(ctx, labID, title); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			log.Infof("lab %s already provisioned", labID)
			return nil
		}
		return err
	}
	log.Infof("lab %s provisioned", labID)
	return nil
}
