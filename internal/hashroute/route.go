package hashroute

import (
	"hash/fnv"
	"strings"
)

// PartitionCount fixes the number of ingestion partitions. Events for one
// tenant always hash to the same partition, which keeps per-tenant cursor
// order while letting tenants proceed concurrently.
const PartitionCount = 16

// CanonicalizeTenantID normalizes opaque tenant identifiers before hashing.
func CanonicalizeTenantID(tenantID string) string {
	return strings.TrimSpace(tenantID)
}

func PartitionForTenant(tenantID string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(CanonicalizeTenantID(tenantID)))
	return int(h.Sum64() % PartitionCount)
}
