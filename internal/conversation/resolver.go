// Package conversation derives stable conversation identities.
package conversation

import (
	"strings"
)

// Separator joins the two participant identities of a conversation id.
const Separator = "-"

// Resolve returns the conversation identity shared by participants a and b.
// It is commutative: Resolve(a, b) == Resolve(b, a). The subject entity is not
// part of the identity; messages about different listings between the same
// two participants share one conversation and carry the subject per message.
//
// Empty or equal identities are accepted and produce a degenerate identity.
// Rejecting self-conversations is the caller's policy.
func Resolve(a, b string) string {
	if b < a {
		a, b = b, a
	}
	var sb strings.Builder
	sb.Grow(len(a) + len(Separator) + len(b))
	sb.WriteString(a)
	sb.WriteString(Separator)
	sb.WriteString(b)
	return sb.String()
}
