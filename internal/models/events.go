package models

// These structs define the JSON payloads crossing the system's event
// boundaries: the storage event that triggers the router and the Pub/Sub
// envelope that carries OCR completion notifications to the consumer.

// GCSEvent is the data payload of a google.cloud.storage.object.v1.finalized
// CloudEvent.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ObjectRecord is one "object created" record handed to the router. Eventarc
// delivers one object per event; the router nevertheless processes records as
// a batch so that replays and backfills can hand it several at once.
type ObjectRecord struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// MessagePublishedData is the data payload of a
// google.cloud.pubsub.topic.v1.messagePublished CloudEvent.
type MessagePublishedData struct {
	Message PubSubMessage `json:"message"`
}

// PubSubMessage is the pushed Pub/Sub message; Data is base64 in transit and
// decoded by encoding/json.
type PubSubMessage struct {
	Data       []byte            `json:"data"`
	Attributes map[string]string `json:"attributes"`
	MessageID  string            `json:"messageId"`
}

// OCR job terminal statuses as reported in completion notifications.
const (
	JobSucceeded = "SUCCEEDED"
	JobFailed    = "FAILED"
)

// OCRCompletion is the notification the OCR service publishes when an
// analysis job reaches a terminal status. JobTag round-trips unchanged from
// submission and is the only link back to the source object.
type OCRCompletion struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	JobTag string `json:"jobTag"`
}
