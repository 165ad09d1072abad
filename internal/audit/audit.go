package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ActorSystem marks webhook- and provider-driven changes that have no human
// requester.
const ActorSystem = "system"

type Record struct {
	Action       string
	ResourceType string
	ResourceID   string
	Actor        string
	Severity     Severity
	Before       any
	After        any
	IP           string
	UserAgent    string
}

// Sink appends to the audit_log table. It is best-effort: every failure is
// logged to process output and swallowed, never blocking or rolling back the
// primary mutation that triggered it.
type Sink struct {
	db *sql.DB
}

func NewSink(db *sql.DB) *Sink {
	return &Sink{db: db}
}

func (s *Sink) Write(ctx context.Context, rec Record) {
	if rec.Actor == "" {
		rec.Actor = ActorSystem
	}
	if rec.Severity == "" {
		rec.Severity = SeverityInfo
	}

	before, err := marshalSnapshot(rec.Before)
	if err != nil {
		log.Printf("audit: marshal before snapshot for %s/%s: %v", rec.ResourceType, rec.ResourceID, err)
		before = nil
	}
	after, err := marshalSnapshot(rec.After)
	if err != nil {
		log.Printf("audit: marshal after snapshot for %s/%s: %v", rec.ResourceType, rec.ResourceID, err)
		after = nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (action, resource_type, resource_id, actor, severity,
		                        before_state, after_state, ip, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		rec.Action, rec.ResourceType, rec.ResourceID, rec.Actor, string(rec.Severity),
		before, after, rec.IP, rec.UserAgent)
	if err != nil {
		log.Printf("audit: write %s %s/%s: %v", rec.Action, rec.ResourceType, rec.ResourceID, err)
	}
}

func marshalSnapshot(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
