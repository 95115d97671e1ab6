package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/docingest/internal/models"
	"github.com/Lllllllleong/docingest/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	routerInstance *services.RouterFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function for storage object.finalized events.
	functions.CloudEvent("RouteDocument", routeDocument)
}

// main is required by the Go Functions Framework.
func main() {}

// routeDocument is the Cloud Function entry point for new-object events.
func routeDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		routerInstance, initErr = services.NewRouter(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Eventarc delivers one object per event; RouteBatch still takes a slice
	// so replays can hand it several. Record-level failures are logged inside
	// and must not fail the invocation: the event source does not guarantee
	// redelivery, and failing here would not bring the record back.
	results := routerInstance.RouteBatch(ctx, []models.ObjectRecord{
		{Bucket: gcsEvent.Bucket, Key: gcsEvent.Name},
	})
	for _, r := range results {
		slog.Info("Record routed.", "gcsObject", r.Key, "outcome", string(r.Outcome))
	}
	return nil
}
