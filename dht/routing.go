package dht

import "sync"

// DefaultBucketSize is K in spec.md §4.6.
const DefaultBucketSize = 8

// DefaultStaleSeconds is the 15-minute no-activity threshold after
// which a bucket is surfaced by NextRefresh.
const DefaultStaleSeconds = 15 * 60

type bucket struct {
	contacts []Contact
}

// sort keeps contacts ascending by LastOkUnix: zero (never contacted,
// spec.md's "None") sorts before any nonzero timestamp, and earlier
// timestamps before later ones, exactly the order spec.md §4.6
// requires.
func (b *bucket) sort() {
	for i := 1; i < len(b.contacts); i++ {
		for j := i; j > 0 && b.contacts[j].LastOkUnix < b.contacts[j-1].LastOkUnix; j-- {
			b.contacts[j], b.contacts[j-1] = b.contacts[j-1], b.contacts[j]
		}
	}
}

func (b *bucket) indexOf(id ID) int {
	for i, c := range b.contacts {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (b *bucket) remove(i int) {
	b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
}

// RoutingTable is a dynamic bucket list, not a fixed 160-entry array:
// it starts as a single bucket covering the whole ID space and only
// ever splits the bucket that currently contains self (spec.md
// §4.6). Every other bucket is a permanent leaf, capped at k entries.
type RoutingTable struct {
	mu      sync.Mutex
	self    ID
	k       int
	buckets []*bucket
}

// New builds a routing table for self with bucket capacity k.
func New(self ID, k int) *RoutingTable {
	return &RoutingTable{self: self, k: k, buckets: []*bucket{{}}}
}

// bucketIndex is the table index a contact with this ID currently
// falls in: its common-prefix-length with self, clamped to the last
// (catch-all, splittable) bucket.
func (rt *RoutingTable) bucketIndex(id ID) int {
	idx := commonPrefixLen(id, rt.self)
	if last := len(rt.buckets) - 1; idx > last {
		idx = last
	}
	return idx
}

// split grows the last bucket into two: the old index keeps contacts
// whose common-prefix-length with self is exactly that index, and a
// new last bucket absorbs everything deeper (including self's own
// prefix range), per spec.md §4.6 ("split on the next bit of
// self_id").
func (rt *RoutingTable) split() {
	oldIdx := len(rt.buckets) - 1
	old := rt.buckets[oldIdx]
	next := &bucket{}
	rt.buckets = append(rt.buckets, next)

	var keep []Contact
	for _, c := range old.contacts {
		if commonPrefixLen(c.ID, rt.self) > oldIdx {
			next.contacts = append(next.contacts, c)
		} else {
			keep = append(keep, c)
		}
	}
	old.contacts = keep
	old.sort()
	next.sort()
}

// Insert adds or refreshes a contact. It returns ok=true when the
// contact was placed (inserted fresh, or an existing entry's last_ok
// was advanced); ok=false means the target bucket was full and not
// splittable, in which case stale holds that bucket's contacts
// (sorted oldest-first) for the caller to challenge and possibly
// evict.
func (rt *RoutingTable) Insert(c Contact) (ok bool, stale []Contact) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if c.ID == rt.self {
		return false, nil
	}

	for {
		idx := rt.bucketIndex(c.ID)
		b := rt.buckets[idx]

		if i := b.indexOf(c.ID); i >= 0 {
			existing := b.contacts[i]
			if !existing.hasSameEndpoint(c) {
				// Endpoint changed: this is a new contact at an old ID,
				// not a refresh. Drop the stale entry and fall through
				// to ordinary insert-as-new handling below.
				b.remove(i)
			} else {
				existing.LastOkUnix = c.LastOkUnix
				existing.Fails = 0
				b.contacts[i] = existing
				b.sort()
				return true, nil
			}
		}

		if len(b.contacts) < rt.k {
			b.contacts = append(b.contacts, c)
			b.sort()
			return true, nil
		}

		if idx == len(rt.buckets)-1 {
			rt.split()
			continue
		}

		return false, append([]Contact(nil), b.contacts...)
	}
}

// UpdateOk refreshes a known contact's last_ok and clears its failure
// counter. It reports whether the contact was found.
func (rt *RoutingTable) UpdateOk(id ID, lastOkUnix int64) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.buckets[rt.bucketIndex(id)]
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.contacts[i].LastOkUnix = lastOkUnix
	b.contacts[i].Fails = 0
	b.sort()
	return true
}

// UpdateErr increments a contact's failure counter, evicting it once
// it reaches 3 consecutive failures (spec.md §8). It reports whether
// the entry was evicted.
func (rt *RoutingTable) UpdateErr(id ID) (evicted bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.buckets[rt.bucketIndex(id)]
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.contacts[i].Fails++
	if b.contacts[i].Fails >= 3 {
		b.remove(i)
		return true
	}
	return false
}

// Closest returns up to k contacts in ascending XOR distance to
// target.
func (rt *RoutingTable) Closest(target ID, k int) []Contact {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var all []Contact
	for _, b := range rt.buckets {
		all = append(all, b.contacts...)
	}
	sortByDistance(all, target)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

func sortByDistance(cs []Contact, target ID) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && Distance(cs[j].ID, target).Less(Distance(cs[j-1].ID, target)); j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// NextRefresh returns a find_node target ID for every bucket that has
// seen no successful contact in the last staleSeconds, per spec.md
// §4.6. The target is constructed to fall within that bucket's
// prefix range so a find_node search actually probes it.
func (rt *RoutingTable) NextRefresh(nowUnix int64, staleSeconds int64) []ID {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var targets []ID
	for idx, b := range rt.buckets {
		var newest int64
		for _, c := range b.contacts {
			if c.LastOkUnix > newest {
				newest = c.LastOkUnix
			}
		}
		if nowUnix-newest >= staleSeconds {
			targets = append(targets, targetForBucket(rt.self, idx, len(rt.buckets)))
		}
	}
	return targets
}

func targetForBucket(self ID, idx, numBuckets int) ID {
	if idx == numBuckets-1 {
		return self
	}
	return setBit(self, idx, 1-bit(self, idx))
}

// Size returns the total number of contacts across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	n := 0
	for _, b := range rt.buckets {
		n += len(b.contacts)
	}
	return n
}

// Snapshot returns every contact currently held, for persistence.
func (rt *RoutingTable) Snapshot() []Contact {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var all []Contact
	for _, b := range rt.buckets {
		all = append(all, b.contacts...)
	}
	return all
}
