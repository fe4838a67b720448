package alerts

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"sync"
	"time"
)

// DispatchKey is deterministic over the alert, the opportunity set, and the
// frequency bucket of the scan time: the same findings inside one bucket
// always produce the same key.
func DispatchKey(alertID string, productIDs []string, at time.Time, frequency time.Duration) string {
	ids := make([]string, len(productIDs))
	copy(ids, productIDs)
	sort.Strings(ids)

	bucket := int64(0)
	if frequency > 0 {
		bucket = at.UTC().Unix() / int64(frequency.Seconds())
	}

	h := sha256.New()
	h.Write([]byte(alertID))
	h.Write([]byte{0})
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	h.Write([]byte(strconv.FormatInt(bucket, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// dedupe suppresses re-dispatch of a key inside its window. Expired entries
// are collected lazily on each lookup.
type dedupe struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// seen reports whether key is still inside a prior dispatch's window,
// recording now+window for it otherwise.
func (d *dedupe) seen(key string, now time.Time, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.expires == nil {
		d.expires = make(map[string]time.Time)
	}
	if exp, ok := d.expires[key]; ok && now.Before(exp) {
		return true
	}
	for k, exp := range d.expires {
		if !now.Before(exp) {
			delete(d.expires, k)
		}
	}
	d.expires[key] = now.Add(window)
	return false
}
