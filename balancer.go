package eventproc

import (
	"sort"
	"time"
)

// Balancer picks the partitions a processor instance should attempt to
// claim next, given its own id, the ownerships currently known to the
// store, and the universe of partition ids on the hub. Implementations
// must be pure and side-effect free; the Processor is the only caller that
// performs I/O.
type Balancer interface {
	LoadBalance(ownerID string, ownerships map[string]PartitionOwnership, partitionIDs []string) []string
}

// FairBalancer claims at most one partition per call, moving the fleet
// toward an even split, preferring to steal from the most-loaded
// owner when this instance is below quota, otherwise claiming any
// unclaimed or stale partition, and otherwise claiming nothing.
type FairBalancer struct {
	// InactiveTimeLimit is the staleness threshold applied to ownerships;
	// an ownership older than this is treated as abandoned by a dead
	// owner. Defaults to 60s when zero.
	InactiveTimeLimit time.Duration

	// Now returns the current time; overridable for tests. Defaults to
	// time.Now.
	Now func() time.Time
}

func (b *FairBalancer) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *FairBalancer) inactiveLimit() time.Duration {
	if b.InactiveTimeLimit > 0 {
		return b.InactiveTimeLimit
	}
	return defaultInactiveTimeLimit
}

// LoadBalance implements Balancer.
func (b *FairBalancer) LoadBalance(ownerID string, ownerships map[string]PartitionOwnership, partitionIDs []string) []string {
	return loadBalance(ownerID, ownerships, partitionIDs, b.now(), b.inactiveLimit())
}

// loadBalance is the pure decision function underlying FairBalancer,
// separated out so it can be unit tested without a clock indirection.
func loadBalance(ownerID string, ownerships map[string]PartitionOwnership, partitionIDs []string, now time.Time, inactiveLimit time.Duration) []string {
	totalPartitions := len(partitionIDs)
	if totalPartitions == 0 {
		return nil
	}

	// Step 1: active ownerships (non-empty owner, not stale).
	active := make(map[string]PartitionOwnership, len(ownerships))
	for id, o := range ownerships {
		if isAbandoned(o) {
			continue
		}
		if isStale(o, now, inactiveLimit) {
			continue
		}
		active[id] = o
	}

	// Step 2: claimable = partitions without an active owner.
	partitionSet := make(map[string]struct{}, totalPartitions)
	for _, id := range partitionIDs {
		partitionSet[id] = struct{}{}
	}
	var claimable []string
	for id := range partitionSet {
		if _, ok := active[id]; !ok {
			claimable = append(claimable, id)
		}
	}
	sort.Strings(claimable)

	// Step 3: bucket active ownerships by owner, including self at 0 if
	// missing.
	counts := make(map[string]int)
	counts[ownerID] = 0
	for _, o := range active {
		counts[o.OwnerID]++
	}
	ownerCount := len(counts)

	// Step 4: quota.
	minCount := totalPartitions / ownerCount
	maxCount := totalPartitions / ownerCount
	if totalPartitions%ownerCount != 0 {
		maxCount++
	}

	selfCount := counts[ownerID]
	selfBelowMin := selfCount < minCount

	// Step 5: steal from the most-loaded owner above min, if self is below
	// min.
	if selfBelowMin {
		if victim, ok := mostLoadedOwnerAboveMin(counts, minCount, ownerID); ok {
			if p, ok := mostLoadedOwnerPartition(active, victim); ok {
				return []string{p}
			}
		}
	}

	// Step 6: claim any unclaimed/stale partition.
	if len(claimable) > 0 {
		return claimable[:1]
	}

	// Step 7: balanced, nothing to do.
	return nil
}

// mostLoadedOwnerAboveMin returns the owner (other than self) with the
// highest partition count, provided that count is strictly above min.
// Ties break on the lexicographically smallest owner id for determinism.
func mostLoadedOwnerAboveMin(counts map[string]int, minCount int, self string) (string, bool) {
	var (
		best  string
		bestN int
		found bool
	)
	for owner, n := range counts {
		if owner == self {
			continue
		}
		if n <= minCount {
			continue
		}
		if !found || n > bestN || (n == bestN && owner < best) {
			best, bestN, found = owner, n, true
		}
	}
	return best, found
}

// mostLoadedOwnerPartition returns one partition id currently owned by
// owner, tie-broken lexicographically.
func mostLoadedOwnerPartition(active map[string]PartitionOwnership, owner string) (string, bool) {
	var candidates []string
	for id, o := range active {
		if o.OwnerID == owner {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return candidates[0], true
}

// isStale reports whether an ownership record has not been refreshed
// within the inactivity threshold, making it reclaimable without an
// explicit abandonment.
func isStale(o PartitionOwnership, now time.Time, inactiveLimit time.Duration) bool {
	lastModified := time.UnixMilli(o.LastModifiedTimeMs)
	return now.Sub(lastModified) > inactiveLimit
}

// isAbandoned reports whether an ownership record was deliberately
// released by its former owner (empty OwnerID) rather than merely gone
// stale.
func isAbandoned(o PartitionOwnership) bool {
	return o.OwnerID == ""
}
