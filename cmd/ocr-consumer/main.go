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
	consumerInstance *services.ConsumerFunction
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function for Pub/Sub completion notifications.
	functions.CloudEvent("ConsumeOCRCompletion", consumeOCRCompletion)
}

// main is required by the Go Functions Framework.
func main() {}

// consumeOCRCompletion is the Cloud Function entry point for OCR job
// completion notifications. Returning an error leaves the message
// unacknowledged, so the subscription's redrive policy (bounded retries, then
// the dead-letter topic) governs what happens next.
func consumeOCRCompletion(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		consumerInstance, initErr = services.NewConsumer(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var published models.MessagePublishedData
	if err := json.Unmarshal(e.Data(), &published); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	var completion models.OCRCompletion
	if err := json.Unmarshal(published.Message.Data, &completion); err != nil {
		slog.Error("Failed to unmarshal completion notification", "error", err, "messageId", published.Message.MessageID)
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return consumerInstance.Process(ctx, completion)
}
