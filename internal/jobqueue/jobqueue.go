// Package jobqueue decouples submitting background work from executing it.
// Services depend on Queue; cmd wires the broker, outbox or in-memory flavor.
package jobqueue

import (
	"context"
	"time"
)

const (
	ModeMQ     = "mq"
	ModeOutbox = "outbox"
	ModeMemory = "memory"
)

// Job is one unit of background work. Kind doubles as the broker routing key
// and Payload is marshalled to JSON.
type Job struct {
	ID      string
	Kind    string
	Payload any
}

// Handle identifies a submitted job.
type Handle struct {
	JobID       string    `json:"job_id"`
	Kind        string    `json:"kind"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Queue interface {
	Submit(ctx context.Context, job Job) (Handle, error)
}
