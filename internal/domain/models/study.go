package models

import "time"

type TrialState string

const (
	TrialComplete TrialState = "complete"
	TrialFailed   TrialState = "failed"
)

type Direction string

const (
	Minimize Direction = "minimize"
	Maximize Direction = "maximize"
)

// Trial is one sampled parameter configuration and its score.
type Trial struct {
	StudyID  string      `json:"study_id"`
	Number   int         `json:"number"`
	Params   ModelParams `json:"params"`
	Value    float64     `json:"value"`
	State    TrialState  `json:"state"`
	Error    string      `json:"error,omitempty"`
	Started  time.Time   `json:"started"`
	Finished time.Time   `json:"finished"`
}

type StudyResult struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Trials    []Trial   `json:"trials"`
	Best      *Trial    `json:"best,omitempty"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

// BestParams is nil when no trial completed.
func (r *StudyResult) BestParams() *ModelParams {
	if r == nil || r.Best == nil {
		return nil
	}
	p := r.Best.Params
	return &p
}

// Completed counts trials that produced a value.
func (r *StudyResult) Completed() int {
	n := 0
	for _, t := range r.Trials {
		if t.State == TrialComplete {
			n++
		}
	}
	return n
}

type EventType string

const (
	EventTrialCompleted EventType = "trial.completed"
	EventStudyCompleted EventType = "study.completed"
)

// StudyEvent is fanned out to Kafka and websocket subscribers.
type StudyEvent struct {
	Type      EventType    `json:"type"`
	StudyID   string       `json:"study_id"`
	Trial     *Trial       `json:"trial,omitempty"`
	Best      *ModelParams `json:"best,omitempty"`
	BestValue *float64     `json:"best_value,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
