package support

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const localIDPrefix = "local-"

// newLocalID returns an id of the form local-<unixmillis>-<random>.
func newLocalID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s%d-%s", localIDPrefix, now.UnixMilli(), random)
}

// IsLocalID reports whether id was generated on this client.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}
