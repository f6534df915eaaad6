package push

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// jobNamespace is fixed forever: changing it re-keys every registered trigger.
var jobNamespace = uuid.MustParse("6f1c0c8e-3b7a-5d2e-9a41-2f8d7c5b0e93")

const jobIDPrefix = "push:"

// JobID derives the job engine identifier for a tuple.
//
// It is a name-based (SHA-1) UUID over the canonical tuple string, so equal
// tuples produce equal ids in every process, and re-registering a tuple
// replaces the previous engine-side trigger instead of adding one.
func JobID(t Tuple) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(t.ActorID, 10))
	b.WriteByte('|')
	b.WriteString(string(t.TargetType))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(t.TargetID, 10))
	b.WriteByte('|')
	b.WriteString(strings.TrimSpace(t.HandlerKey))
	return jobIDPrefix + uuid.NewSHA1(jobNamespace, []byte(b.String())).String()
}

// IsJobID reports whether id has the shape produced by JobID.
func IsJobID(id string) bool {
	rest, ok := strings.CutPrefix(id, jobIDPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
