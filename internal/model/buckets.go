package model

import "time"

// Canonical date bucket labels, in display order. Date-grouped merges
// re-emit groups strictly in this order.
const (
	BucketToday      = "Today"
	BucketYesterday  = "Yesterday"
	BucketThisWeek   = "This week"
	BucketLast30Days = "Last 30 days"
	BucketOlder      = "Older"
)

// CanonicalBuckets is the fixed ordering for date-grouped cards.
var CanonicalBuckets = []string{
	BucketToday,
	BucketYesterday,
	BucketThisWeek,
	BucketLast30Days,
	BucketOlder,
}

// bucketRank maps labels to their canonical position; labels outside the
// canonical set are absent.
var bucketRank = func() map[string]int {
	m := make(map[string]int, len(CanonicalBuckets))
	for i, b := range CanonicalBuckets {
		m[b] = i
	}
	return m
}()

// IsCanonicalBucket reports whether label is one of the fixed date buckets.
func IsCanonicalBucket(label string) bool {
	_, ok := bucketRank[label]
	return ok
}

// BucketRank returns the canonical position of a bucket label, or -1 for
// labels outside the canonical set.
func BucketRank(label string) int {
	if r, ok := bucketRank[label]; ok {
		return r
	}
	return -1
}

// BucketFor assigns a timestamp to its date bucket relative to now.
// Day boundaries are taken in now's location.
func BucketFor(t, now time.Time) string {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case !t.Before(startOfDay):
		return BucketToday
	case !t.Before(startOfDay.AddDate(0, 0, -1)):
		return BucketYesterday
	case !t.Before(startOfDay.AddDate(0, 0, -6)):
		return BucketThisWeek
	case !t.Before(startOfDay.AddDate(0, 0, -29)):
		return BucketLast30Days
	default:
		return BucketOlder
	}
}
