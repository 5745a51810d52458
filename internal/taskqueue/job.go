// Package taskqueue hands units of work to the offline delivery subsystem
// and consumes them back. Transport is Kafka behind a transactional outbox;
// delivery is at-least-once, so every handler must be idempotent.
package taskqueue

import "encoding/json"

// Kind names a job variant. One Kafka topic per kind.
type Kind string

const (
	KindCancelAgentDay Kind = "appointment.cancel_agent_day.v1"
	KindDeliverMessage Kind = "message.deliver.v1"
)

type Job struct {
	Kind           Kind            `json:"kind"`
	Key            string          `json:"key"`
	Payload        json.RawMessage `json:"payload"`
	OrganizationID string          `json:"organizationId,omitempty"`
	TenantID       string          `json:"tenantId,omitempty"`
	ActorID        string          `json:"actorId,omitempty"`
}

// NewJob marshals payload and keys the job for partition ordering.
func NewJob(kind Kind, key string, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, err
	}
	return Job{Kind: kind, Key: key, Payload: raw}, nil
}
