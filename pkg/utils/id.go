package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

var idSeq uint64

// GenID generates a unique identifier from the current UTC nanosecond
// timestamp and a random suffix. The format is "<kind>-<timestamp>-<suffix>".
// If the random source is unavailable an atomic sequence number is used
// instead so IDs stay unique within the process.
func GenID(kind string) string {
	n := time.Now().UTC().UnixNano()
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		s := atomic.AddUint64(&idSeq, 1)
		return fmt.Sprintf("%s-%d-%d", kind, n, s)
	}
	return fmt.Sprintf("%s-%d-%s", kind, n, hex.EncodeToString(b[:]))
}

// GenMessageID generates an identifier for a locally created message.
func GenMessageID() string { return GenID("msg") }
