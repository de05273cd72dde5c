package querysafety

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-gateway/backend/internal/telemetry"
)

type memAuditStore struct {
	mu      sync.Mutex
	entries []AuditEntry
	skipped bool
}

func (m *memAuditStore) SaveQueryAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped = auditDisabled(ctx)
	m.entries = append(m.entries, e)
	return nil
}

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "j***@example.com", MaskValue("jane.doe@example.com"))
	assert.Equal(t, "****", MaskValue("secret"))
	assert.Equal(t, "41****11", MaskValue("4111111111111111"))
}

func TestMaskDetails(t *testing.T) {
	in := map[string]any{
		"email":    "jane@example.com",
		"password": "hunter2hunter2",
		"cardCvv":  123,
		"count":    3,
		"nested":   map[string]any{"apiKey": "sk_live_abcdef"},
		"table":    "users",
	}
	out := MaskDetails(in)
	assert.Equal(t, "j***@example.com", out["email"])
	assert.Equal(t, "hu****r2", out["password"])
	assert.Equal(t, "****", out["cardCvv"])
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, "sk****ef", out["nested"].(map[string]any)["apiKey"])
	assert.Equal(t, "users", out["table"])
	assert.Equal(t, "jane@example.com", in["email"], "input is not modified")
}

func TestAuditLog_RecordAndPersist(t *testing.T) {
	store := &memAuditStore{}
	async := telemetry.NewAsync(nil, time.Second)
	log := NewAuditLog(3, store, async)

	for i := 0; i < 5; i++ {
		log.Record(AuditEntry{Operation: "SELECT", Table: fmt.Sprintf("t%d", i), Details: map[string]any{"token": "abcdefghij"}})
	}
	recent := log.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "t4", recent[0].Table)
	assert.Equal(t, "t3", recent[1].Table)
	assert.Len(t, log.Recent(0), 3, "ring keeps the newest entries")
	assert.Equal(t, "ab****ij", recent[0].Details["token"])
	assert.NotEmpty(t, recent[0].ID)
	assert.False(t, recent[0].Timestamp.IsZero())

	require.NoError(t, async.Wait(context.Background()))
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.entries, 5)
	assert.True(t, store.skipped, "persistence must not be audited again")
}

func TestAuditLog_PersistsWithoutSharedRunner(t *testing.T) {
	store := &memAuditStore{}
	log := NewAuditLog(10, store, nil)

	log.Record(AuditEntry{Operation: "INSERT", Table: "security_events"})
	log.Record(AuditEntry{Operation: "SELECT", Table: "security_events"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, log.Flush(ctx))
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.entries, 2)
}

func TestAuditLog_MemoryOnly(t *testing.T) {
	log := NewAuditLog(10, nil, nil)
	log.Record(AuditEntry{Operation: "SELECT"})
	require.NoError(t, log.Flush(context.Background()))
	assert.Len(t, log.Recent(0), 1)
}
