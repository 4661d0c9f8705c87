package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

type runConfigHashPayload struct {
	FlowHash  string `json:"flow_hash"`
	StoreKind string `json:"store_kind"`
	StoreDSN  string `json:"store_dsn,omitempty"`
	DryRun    bool   `json:"dry_run"`
}

// HashRunConfig extends the flow hash with where the rows go.
func HashRunConfig(flowHash, storeKind, storeDSN string, dryRun bool) (string, error) {
	p := runConfigHashPayload{
		FlowHash:  flowHash,
		StoreKind: storeKind,
		StoreDSN:  storeDSN,
		DryRun:    dryRun,
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
