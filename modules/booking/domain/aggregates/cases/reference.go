package cases

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ProvisionalIDPrefix marks a locally minted case id that the backend
	// has not confirmed yet.
	ProvisionalIDPrefix = "offline_"
	// ProvisionalRefPrefix marks a locally minted reference number shown
	// while a booking is still queued.
	ProvisionalRefPrefix = "TMP-"
)

// NewProvisionalID mints a local case identifier. It stays stable across
// restarts until the backend assigns the canonical id.
func NewProvisionalID() string {
	return ProvisionalIDPrefix + uuid.NewString()
}

func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalIDPrefix)
}

// NewProvisionalReference mints a placeholder reference number. It is for
// display only and is discarded on promotion, so millisecond timestamp plus
// a short random suffix is unique enough.
func NewProvisionalReference(now time.Time) string {
	return fmt.Sprintf("%s%d%03d", ProvisionalRefPrefix, now.UnixMilli(), rand.Intn(1000))
}

func IsProvisionalReference(ref string) bool {
	return strings.HasPrefix(ref, ProvisionalRefPrefix)
}

// NewClientToken mints the idempotency token a booking carries for its
// whole life. The backend dedupes creates on it, which makes replaying a
// create after an ambiguous failure safe.
func NewClientToken() string {
	return uuid.NewString()
}

// FormatReference renders a canonical reference number from an allocated
// per-country sequence, e.g. "TMC-SG-000042".
func FormatReference(prefix, country string, seq int64) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, strings.ToUpper(strings.TrimSpace(country)), seq)
}
