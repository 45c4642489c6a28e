package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/orderguard/orderguard/internal/domain/model"
)

const cacheKeyPrefix = "decision:v1:"

// Cache stores previously computed decisions. Implementations are best-effort:
// the engine logs and ignores their errors.
type Cache interface {
	Get(ctx context.Context, key string) (*model.Decision, bool, error)
	Set(ctx context.Context, key string, d *model.Decision) error
}

// CacheKey derives a stable key from the canonical payload, the rule set and the options that affect the outcome.
func CacheKey(payload *model.ValidationPayload, rulesFingerprint string, opts Options) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}

	h := sha256.New()
	h.Write(canon)
	fmt.Fprintf(h, "\n%s\n%t|%d", rulesFingerprint, opts.FillMissing, opts.Timeout.Milliseconds())
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}
