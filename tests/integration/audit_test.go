package integration

import (
	"database/sql"

	"github.com/safar/go-storefront/internal/audit"
)

func newTestSink(db *sql.DB) *audit.Sink {
	return audit.NewSink(db)
}

func testAuditRecord(action, resourceID string) audit.Record {
	return audit.Record{
		Action:       action,
		ResourceType: "order",
		ResourceID:   resourceID,
		Actor:        "user:1",
		Severity:     audit.SeverityInfo,
		After:        map[string]string{"status": "pending"},
		IP:           "127.0.0.1",
		UserAgent:    "integration-test",
	}
}
