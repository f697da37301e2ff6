package eventproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ownershipAt(owner, partitionID string, when time.Time) PartitionOwnership {
	return PartitionOwnership{
		FullyQualifiedNamespace: "ns",
		EventHubName:            "hub",
		ConsumerGroup:           "grp",
		PartitionID:             partitionID,
		OwnerID:                 owner,
		LastModifiedTimeMs:      when.UnixMilli(),
		ETag:                    "etag-" + partitionID,
	}
}

func TestLoadBalance_EmptyStore_ClaimsOneOfAll(t *testing.T) {
	now := time.Now()
	got := loadBalance("A", map[string]PartitionOwnership{}, []string{"0", "1", "2", "3"}, now, time.Minute)
	require.Len(t, got, 1)
	assert.Contains(t, []string{"0", "1", "2", "3"}, got[0])
}

func TestLoadBalance_Balanced_ReturnsNothing(t *testing.T) {
	now := time.Now()
	owned := map[string]PartitionOwnership{
		"0": ownershipAt("A", "0", now),
		"1": ownershipAt("B", "1", now),
	}
	gotA := loadBalance("A", owned, []string{"0", "1"}, now, time.Minute)
	gotB := loadBalance("B", owned, []string{"0", "1"}, now, time.Minute)
	assert.Empty(t, gotA)
	assert.Empty(t, gotB)
}

func TestLoadBalance_StealsFromMostLoadedOwner(t *testing.T) {
	now := time.Now()
	owned := map[string]PartitionOwnership{
		"0": ownershipAt("A", "0", now),
		"1": ownershipAt("A", "1", now),
		"2": ownershipAt("A", "2", now),
		"3": ownershipAt("A", "3", now),
	}
	got := loadBalance("B", owned, []string{"0", "1", "2", "3"}, now, time.Minute)
	require.Len(t, got, 1)
	assert.Contains(t, []string{"0", "1", "2", "3"}, got[0])
}

func TestLoadBalance_ClaimsUnclaimedWhenNoOwnerIsAboveMin(t *testing.T) {
	now := time.Now()
	owned := map[string]PartitionOwnership{
		"0": ownershipAt("A", "0", now),
	}
	// Owners A and B share 2 partitions, so min is 1. A holds exactly 1,
	// leaving nobody above min to steal from; B claims the unclaimed
	// partition ("1").
	got := loadBalance("B", owned, []string{"0", "1"}, now, time.Minute)
	assert.Equal(t, []string{"1"}, got)
}

func TestLoadBalance_StaleOwnershipIsClaimable(t *testing.T) {
	old := time.Now().Add(-2 * time.Minute)
	owned := map[string]PartitionOwnership{
		"0": ownershipAt("A", "0", old),
	}
	got := loadBalance("B", owned, []string{"0"}, time.Now(), time.Minute)
	assert.Equal(t, []string{"0"}, got)
}

func TestLoadBalance_AbandonedOwnershipIsNeverActive(t *testing.T) {
	now := time.Now()
	owned := map[string]PartitionOwnership{
		"0": ownershipAt("", "0", now),
	}
	got := loadBalance("B", owned, []string{"0"}, now, time.Minute)
	assert.Equal(t, []string{"0"}, got)
}

func TestLoadBalance_Deterministic_TieBreaksLexicographically(t *testing.T) {
	now := time.Now()
	got1 := loadBalance("A", map[string]PartitionOwnership{}, []string{"2", "0", "1"}, now, time.Minute)
	got2 := loadBalance("A", map[string]PartitionOwnership{}, []string{"1", "2", "0"}, now, time.Minute)
	assert.Equal(t, []string{"0"}, got1)
	assert.Equal(t, got1, got2)
}

func TestIsStale(t *testing.T) {
	now := time.Now()
	fresh := ownershipAt("A", "0", now)
	stale := ownershipAt("A", "0", now.Add(-2*time.Minute))
	assert.False(t, isStale(fresh, now, time.Minute))
	assert.True(t, isStale(stale, now, time.Minute))
}

func TestIsAbandoned(t *testing.T) {
	assert.True(t, isAbandoned(PartitionOwnership{OwnerID: ""}))
	assert.False(t, isAbandoned(PartitionOwnership{OwnerID: "A"}))
}

func TestConvergence_NProcessorsPPartitions(t *testing.T) {
	const partitions = 8
	const processors = 3

	ids := make([]string, partitions)
	for i := range ids {
		ids[i] = string(rune('0' + i))
	}

	owned := map[string]PartitionOwnership{}
	now := time.Now()
	owners := []string{"A", "B", "C"}
	_ = processors

	for round := 0; round < partitions*4; round++ {
		for _, owner := range owners {
			claims := loadBalance(owner, owned, ids, now, time.Minute)
			for _, p := range claims {
				owned[p] = ownershipAt(owner, p, now)
			}
		}
	}

	counts := map[string]int{}
	for _, o := range owned {
		counts[o.OwnerID]++
	}
	require.Len(t, owned, partitions)

	min, max := partitions, 0
	for _, owner := range owners {
		c := counts[owner]
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	assert.LessOrEqual(t, max-min, 1)
}
