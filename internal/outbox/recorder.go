package outbox

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

const summaryTopic = "tendabike.summary"
const summarySchemaSubject = "tendabike.summary-value"

// Recorder enqueues outbox rows from the API handler layer, in the same
// request as the domain mutation that produced a Summary. It writes a
// single INSERT and returns; delivery to Kafka is the Dispatcher's job.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder constructs a Recorder.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Enqueue writes one outbox row for aggregateType/aggregateID. payload is
// marshaled to JSON; aggregateID also serves as the Kafka partition key so
// all events for one aggregate land on the same partition in order.
func (r *Recorder) Enqueue(ctx context.Context, ownerID int64, eventType, aggregateType, aggregateID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO outbox (owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ownerID,
		aggregateType,
		aggregateID,
		eventType,
		summaryTopic,
		summarySchemaSubject,
		aggregateID,
		body,
	)
	return err
}
