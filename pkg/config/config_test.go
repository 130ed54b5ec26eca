package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IMAP_USERNAME", "Owner@Studio.com")
	t.Setenv("SYNC_BATCH_LIMIT", "")
	t.Setenv("FOLLOW_UP_DAYS", "")
	t.Setenv("AI_TIMEOUT", "")

	cfg := Load()

	assert.Equal(t, 25, cfg.SyncBatchLimit)
	assert.Equal(t, 10, cfg.FollowUpDays)
	assert.Equal(t, 30*time.Second, cfg.AITimeout)
	assert.Equal(t, 8, cfg.AIContextMessages)
	assert.Equal(t, "owner@studio.com", cfg.OwnerEmail)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYNC_BATCH_LIMIT", "10")
	t.Setenv("FOLLOW_UP_DAYS", "14")
	t.Setenv("AI_TIMEOUT", "5s")
	t.Setenv("CLASSIFY_PAGE_SIZE", "not-a-number")

	cfg := Load()

	assert.Equal(t, 10, cfg.SyncBatchLimit)
	assert.Equal(t, 14, cfg.FollowUpDays)
	assert.Equal(t, 5*time.Second, cfg.AITimeout)
	assert.Equal(t, 20, cfg.ClassifyPageSize)
}

func TestOwnerAddressesDeduplicates(t *testing.T) {
	cfg := &Config{
		OwnerEmail:   "me@studio.com",
		ImapUsername: "ME@studio.com",
		OwnerAliases: []string{" hello@studio.com ", "", "me@studio.com"},
	}

	assert.Equal(t, []string{"me@studio.com", "hello@studio.com"}, cfg.OwnerAddresses())
}
