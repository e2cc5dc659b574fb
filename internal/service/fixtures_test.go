package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noah-isme/casebook-api/internal/models"
)

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: fixedNow}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type auditSinkStub struct {
	logs []*models.AuditLog
	err  error
}

func (a *auditSinkStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

// grantAuthorizer allows exactly the listed role/action pairs.
type grantAuthorizer map[models.RoleID]map[models.Action]bool

func grants(role models.RoleID, actions ...models.Action) grantAuthorizer {
	g := grantAuthorizer{role: {}}
	for _, action := range actions {
		g[role][action] = true
	}
	return g
}

func (g grantAuthorizer) Authorize(role models.RoleID, action models.Action) bool {
	return g[role][action]
}

func newTestTrail(sink auditLogger) *AuditTrailAppender {
	return NewAuditTrailAppender(sink, nil, WithAuditClock(newTestClock().Now), WithAuditIDs(sequentialIDs("rec")))
}

func testActor(role models.RoleID) models.Actor {
	return models.Actor{UserID: "user-" + string(role), Name: "Test " + string(role), Role: role, Country: "SG", Department: "Ortho"}
}

func bookedCase() *models.Case {
	return &models.Case{
		ID:            "case-1",
		CaseReference: "SG-0001",
		Status:        models.StatusCaseBooked,
		SubmittedBy:   "user-sales",
		Country:       "SG",
		Department:    "Ortho",
		Hospital:      "General Hospital",
		Surgeon:       "Dr. Tan",
		ProcedureType: "Knee",
		SurgeryDate:   "2026-03-10",
		History: []models.StatusHistoryEntry{{
			ID: "h-0", CaseID: "case-1", Sequence: 1, Status: models.StatusCaseBooked, ActorID: "user-sales", Timestamp: fixedNow.Add(-time.Hour),
		}},
	}
}

func allowAll(role models.RoleID) grantAuthorizer {
	return grants(role, models.Actions...)
}
