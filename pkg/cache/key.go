package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// KeyParts are the request attributes that participate in cache key
// derivation: scheme, host, path, sorted query, and selected Vary headers.
type KeyParts struct {
	Scheme      string
	Host        string
	Path        string
	Query       url.Values
	VaryHeaders map[string]string // header name -> value, already filtered to the configured Vary set
}

// DeriveKey hashes the request's identity into a 16-byte hex digest, scoped
// under the request path so prefix invalidation can target one route.
func DeriveKey(p KeyParts) string {
	var b strings.Builder
	b.WriteString(p.Scheme)
	b.WriteByte('|')
	b.WriteString(p.Host)
	b.WriteByte('|')
	b.WriteString(p.Path)
	b.WriteByte('|')

	keys := make([]string, 0, len(p.Query))
	for k := range p.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := append([]string(nil), p.Query[k]...)
		sort.Strings(vals)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(vals, ","))
		b.WriteByte('&')
	}

	headerNames := make([]string, 0, len(p.VaryHeaders))
	for k := range p.VaryHeaders {
		headerNames = append(headerNames, k)
	}
	sort.Strings(headerNames)
	for _, h := range headerNames {
		b.WriteString(h)
		b.WriteByte(':')
		b.WriteString(p.VaryHeaders[h])
		b.WriteByte('|')
	}

	sum := sha256.Sum256([]byte(b.String()))
	digest := hex.EncodeToString(sum[:16])
	return "cache:" + p.Path + ":" + digest
}
