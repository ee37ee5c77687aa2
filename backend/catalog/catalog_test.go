package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLookup tests finding catalog entries by id.
func TestLookup(t *testing.T) {
	entry, ok := Lookup("workout-hypertrophy")
	assert.True(t, ok)
	assert.Equal(t, "Hypertrophy workout", entry.Name)
	assert.Equal(t, 30, entry.Points)
	assert.Equal(t, 1, entry.DailyCap)
	assert.Equal(t, 4, entry.WeeklyCap)
	assert.False(t, entry.IsDiminishing)

	_, ok = Lookup("does-not-exist")
	assert.False(t, ok)

	// The custom pseudo-id is not a real catalog entry.
	_, ok = Lookup(CustomID)
	assert.False(t, ok)
}

// TestRecoverySet tests recovery membership and that every recovery
// entry carries the Recovery category.
func TestRecoverySet(t *testing.T) {
	assert.True(t, IsRecovery("walk"))
	assert.True(t, IsRecovery("journaling"))
	assert.False(t, IsRecovery("deep-work"))
	assert.False(t, IsRecovery(CustomID))

	recovery := RecoveryEntries()
	assert.Len(t, recovery, 4)
	for _, entry := range recovery {
		assert.Equal(t, "Recovery", entry.Category)
	}
}

// TestEntriesIsACopy tests that mutating the returned slice does not
// change the catalog itself.
func TestEntriesIsACopy(t *testing.T) {
	all := Entries()
	assert.NotEmpty(t, all)

	original := all[0].Name
	all[0].Name = "mutated"

	again := Entries()
	assert.Equal(t, original, again[0].Name)
}
