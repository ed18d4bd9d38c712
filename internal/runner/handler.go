package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// scheduledDetailType is the detail-type of EventBridge schedule invocations.
const scheduledDetailType = "Scheduled Event"

// Handler is the Lambda entrypoint. It accepts either:
//  1. an EventBridge scheduled event, evaluated at the event time with the
//     configured intentions;
//  2. a manual Job JSON, for re-processing a specific day or intention set.
//
// An empty payload runs the configured intentions now.
func (r *Runner) Handler(ctx context.Context, payload json.RawMessage) (Summary, error) {
	job, err := ParseJob(payload)
	if err != nil {
		return Summary{}, err
	}
	return r.Run(ctx, job)
}

// ParseJob decodes a Lambda or stdin payload into a Job.
func ParseJob(payload []byte) (Job, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return Job{}, nil
	}

	var ev events.CloudWatchEvent
	if err := json.Unmarshal(payload, &ev); err == nil && ev.DetailType == scheduledDetailType {
		return Job{Now: ev.Time.UTC()}, nil
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, fmt.Errorf("runner: failed to parse payload as scheduled event or job: %w", err)
	}
	if !job.Now.IsZero() {
		job.Now = job.Now.UTC()
	}
	return job, nil
}

// String describes the job for logs.
func (j Job) String() string {
	now := "now"
	if !j.Now.IsZero() {
		now = j.Now.Format(time.RFC3339)
	}
	return fmt.Sprintf("job(at=%s, intents=%v)", now, j.Intents)
}
