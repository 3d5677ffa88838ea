package schema

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// NodeID derives the stable node identifier from the identity triple.
// Rebuilding unchanged source yields the same ID, which is what makes
// upserts idempotent. The ID is the first 16 bytes of a sha256, hex encoded.
func NodeID(filePath, qualifiedName string, kind NodeKind) string {
	h := sha256.New()
	fmt.Fprintf(h, "path:%s\n", filePath)
	fmt.Fprintf(h, "qname:%s\n", qualifiedName)
	fmt.Fprintf(h, "kind:%s\n", kind)
	return fmt.Sprintf("%x", h.Sum(nil)[:16])
}

// SignatureHash computes a deterministic hash of a declaration's shape:
// signature text, return type and modifiers. Location changes do not affect
// the hash. Modifiers are sorted so adapter emit order is irrelevant.
func SignatureHash(signature, returnType string, modifiers []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "sig:%s\n", signature)
	fmt.Fprintf(h, "ret:%s\n", returnType)
	sorted := make([]string, len(modifiers))
	copy(sorted, modifiers)
	sort.Strings(sorted)
	fmt.Fprintf(h, "mods:%s\n", strings.Join(sorted, ","))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// overloadSuffixLen is how many signature-hash characters disambiguate
// overloaded declarations sharing one identity triple.
const overloadSuffixLen = 8

// OverloadID appends a signature discriminator to a base node ID. Every
// member of a colliding group gets the suffix, so the final IDs depend only
// on each declaration's own signature, never on encounter order.
func OverloadID(baseID string, n *Node) string {
	return baseID + ":" + SignatureHash(n.Signature, n.ReturnType, n.Modifiers)[:overloadSuffixLen]
}
