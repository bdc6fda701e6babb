package model

import (
	"time"
)

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is the persisted record of one webhook-triggered pipeline execution.
type Run struct {
	ID          string        `json:"id"`
	CardID      string        `json:"card_id"`
	CardTitle   string        `json:"card_title,omitempty"`
	Status      string        `json:"status"`
	Jobs        []DocumentJob `json:"jobs,omitempty"`
	PrimaryLink string        `json:"primary_link,omitempty"`
	ErrorMsg    string        `json:"error_msg,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}
