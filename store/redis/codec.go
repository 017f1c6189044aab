package redis

import (
	"strconv"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatMillis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// parseTime parses an optional timestamp field.
func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	return &t
}

// pairs flattens field/value pairs into script arguments.
func pairs(m map[string]string) []interface{} {
	out := make([]interface{}, 0, 2*len(m))
	for k, v := range m {
		out = append(out, k, v)
	}
	return out
}

func jobToMap(j *job.Job) map[string]string {
	notBefore := "0"
	m := map[string]string{
		"id":            j.ID.String(),
		"tenant_id":     j.TenantID,
		"type":          j.Type,
		"priority":      strconv.Itoa(j.Priority),
		"payload":       string(j.Payload),
		"result":        string(j.Result),
		"state":         string(j.State),
		"unique_key":    j.UniqueKey,
		"scheduled_for": formatTime(j.ScheduledFor),
		"scheduled_ms":  formatMillis(j.ScheduledFor),
		"eligible_ms":   formatMillis(j.EligibleAt()),
		"max_retries":   strconv.Itoa(j.MaxRetries),
		"retry_count":   strconv.Itoa(j.RetryCount),
		"attempt":       strconv.Itoa(j.Attempt),
		"dead_letter":   strconv.FormatBool(j.DeadLetter),
		"timeout":       strconv.FormatInt(int64(j.Timeout), 10),
		"error_message": j.ErrorMessage,
		"error_stack":   j.ErrorStack,
		"created_at":    formatTime(j.CreatedAt),
		"updated_at":    formatTime(j.UpdatedAt),
	}
	if j.NotBefore != nil {
		m["not_before"] = formatTime(*j.NotBefore)
		notBefore = formatMillis(*j.NotBefore)
	}
	m["not_before_ms"] = notBefore
	if j.StartedAt != nil {
		m["started_at"] = formatTime(*j.StartedAt)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = formatTime(*j.CompletedAt)
	}
	if j.LastErrorAt != nil {
		m["last_error_at"] = formatTime(*j.LastErrorAt)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, err
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])      //nolint:errcheck // best-effort parse from trusted Redis data
	retryCount, _ := strconv.Atoi(m["retry_count"])      //nolint:errcheck // best-effort parse from trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])             //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	deadLetter, _ := strconv.ParseBool(m["dead_letter"]) //nolint:errcheck // best-effort parse from trusted Redis data

	scheduledFor, _ := time.Parse(time.RFC3339Nano, m["scheduled_for"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])       //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])       //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: conveyor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:           jID,
		TenantID:     m["tenant_id"],
		Type:         m["type"],
		Priority:     priority,
		State:        job.State(m["state"]),
		UniqueKey:    m["unique_key"],
		ScheduledFor: scheduledFor,
		NotBefore:    parseTime(m["not_before"]),
		MaxRetries:   maxRetries,
		RetryCount:   retryCount,
		Attempt:      attempt,
		DeadLetter:   deadLetter,
		Timeout:      time.Duration(timeout),
		StartedAt:    parseTime(m["started_at"]),
		CompletedAt:  parseTime(m["completed_at"]),
		ErrorMessage: m["error_message"],
		ErrorStack:   m["error_stack"],
		LastErrorAt:  parseTime(m["last_error_at"]),
	}
	if v := m["payload"]; v != "" {
		j.Payload = []byte(v)
	}
	if v := m["result"]; v != "" {
		j.Result = []byte(v)
	}
	return j, nil
}

func entryToMap(e *dlq.Entry) map[string]string {
	m := map[string]string{
		"id":               e.ID.String(),
		"tenant_id":        e.TenantID,
		"correlation_id":   e.CorrelationID,
		"payload":          string(e.Payload),
		"content_hash":     e.ContentHash,
		"error_message":    e.ErrorMessage,
		"error_code":       e.ErrorCode,
		"stack":            e.Stack,
		"stage":            e.Stage,
		"job_type":         e.JobType,
		"job_id":           e.JobID,
		"failure_count":    strconv.Itoa(e.FailureCount),
		"last_attempt_at":  formatTime(e.LastAttemptAt),
		"last_attempt_ms":  formatMillis(e.LastAttemptAt),
		"status":           string(e.Status),
		"resolution_notes": e.ResolutionNotes,
		"resolved_by":      e.ResolvedBy,
		"created_at":       formatTime(e.CreatedAt),
		"created_ms":       formatMillis(e.CreatedAt),
		"updated_at":       formatTime(e.UpdatedAt),
	}
	if e.ResolvedAt != nil {
		m["resolved_at"] = formatTime(*e.ResolvedAt)
	}
	return m
}

func mapToEntry(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseEntryID(m["id"])
	if err != nil {
		return nil, err
	}

	failureCount, _ := strconv.Atoi(m["failure_count"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	lastAttemptAt, _ := time.Parse(time.RFC3339Nano, m["last_attempt_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])          //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])          //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		Entity: conveyor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:              eID,
		TenantID:        m["tenant_id"],
		CorrelationID:   m["correlation_id"],
		ContentHash:     m["content_hash"],
		ErrorMessage:    m["error_message"],
		ErrorCode:       m["error_code"],
		Stack:           m["stack"],
		Stage:           m["stage"],
		JobType:         m["job_type"],
		JobID:           m["job_id"],
		FailureCount:    failureCount,
		LastAttemptAt:   lastAttemptAt,
		Status:          dlq.Status(m["status"]),
		ResolutionNotes: m["resolution_notes"],
		ResolvedAt:      parseTime(m["resolved_at"]),
		ResolvedBy:      m["resolved_by"],
	}
	if v := m["payload"]; v != "" {
		e.Payload = []byte(v)
	}
	return e, nil
}
