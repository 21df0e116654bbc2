package session

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BoundaryPrefix starts every MIME boundary. Neither '-' nor '_' is in the
// standard base64 alphabet, so a boundary can never occur inside a
// base64-encoded part.
const BoundaryPrefix = "----=_Part_"

// now is swapped out in tests.
var now = time.Now

// NewBoundary derives a multipart boundary from an identity (usually the
// authenticated user), a timestamp and 64 random bits. The result is 59
// characters long, inside RFC 2046's limit of 70.
func NewBoundary(identity string, t time.Time) string {
	sum := md5.Sum([]byte(identity + strconv.FormatInt(t.Unix(), 10)))
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return BoundaryPrefix + hex.EncodeToString(sum[:]) + suffix
}
