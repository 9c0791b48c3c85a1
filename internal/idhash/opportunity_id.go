package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"solana-arb-engine/internal/domain"
)

// ComputeOpportunityID computes a deterministic opportunity_id using SHA256.
// Formula: SHA256(snapshot_version|anchor|route_key|input_amount)
// Returns hex-encoded hash (64 characters).
func ComputeOpportunityID(
	snapshotVersion uint64,
	anchor string,
	pools []domain.PoolKey,
	inputAmount float64,
) string {
	data := fmt.Sprintf("%d|%s|%s|%.12g",
		snapshotVersion,
		anchor,
		RouteKey(pools),
		inputAmount,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// RouteKey joins pool keys in hop order: "source:pool>source:pool".
func RouteKey(pools []domain.PoolKey) string {
	parts := make([]string, len(pools))
	for i, k := range pools {
		parts[i] = k.String()
	}
	return strings.Join(parts, ">")
}
