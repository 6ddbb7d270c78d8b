package order

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CodeGenerator produces the customer-facing order code.
type CodeGenerator func(now time.Time) string

// TimeCode returns a code made of the millisecond timestamp followed by eight
// random hex digits. The timestamp keeps codes sortable by placement time;
// the suffix separates orders placed within the same millisecond. The orders
// table additionally enforces uniqueness of the code.
func TimeCode(now time.Time) string {
	suffix := strings.ToUpper(uuid.New().String()[:8])
	return strconv.FormatInt(now.UnixMilli(), 10) + suffix
}
