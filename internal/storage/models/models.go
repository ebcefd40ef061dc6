// Package models holds the rows the SQLite store reads and writes that have no
// counterpart in the pipeline types.
package models

import "time"

type EvaluationRun struct {
	ID         string
	Dataset    string
	Cases      int
	Passed     int
	AvgRecall  float64
	AvgCosine  float64
	StartedAt  time.Time
	FinishedAt time.Time
}

type EvaluationResult struct {
	ID          int
	RunID       string
	CaseID      string
	Question    string
	Answer      string
	Strategy    string
	TokenRecall float64
	Cosine      float64
	Passed      bool
	LatencyMS   int64
	Error       string
	CreatedAt   time.Time
}
