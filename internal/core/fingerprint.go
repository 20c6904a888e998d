package core

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Fingerprint derives the dedup identity of a message from its account and
// envelope metadata. The same physical message always hashes to the same
// value, even when re-fetched with a different UID. A missing Message-ID
// leaves the sender/subject/timestamp composite to discriminate.
func Fingerprint(account, messageID, from, subject string, date time.Time) string {
	ts := ""
	if !date.IsZero() {
		ts = date.UTC().Format(time.RFC3339)
	}
	sum := md5.Sum([]byte(account + ":" + messageID + ":" + from + ":" + subject + ":" + ts))
	return hex.EncodeToString(sum[:])
}
