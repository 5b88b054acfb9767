package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/scrypster/ucw/pkg/types"
)

// signatureBucket is the time-bucket width for coherence signatures. Events
// about the same thing inside one bucket collide, which is what makes the
// signature useful for clustering.
const signatureBucket = 5 * time.Minute

// signatureContentLength bounds how much content feeds the digest.
const signatureContentLength = 1024

// CoherenceSignature derives the deterministic clustering digest for an
// event: SHA-256 over intent, primary topic, the 5-minute time bucket, and
// a bounded content prefix.
func CoherenceSignature(timestampNS int64, light *types.LightLayer, content string) string {
	topic := "general"
	if light != nil && len(light.Topics) > 0 {
		topic = light.Topics[0]
	}
	intent := types.IntentUnknown
	if light != nil && light.Intent != "" {
		intent = light.Intent
	}

	if len(content) > signatureContentLength {
		content = content[:signatureContentLength]
	}

	bucket := timestampNS / signatureBucket.Nanoseconds()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s::%s::%d::%s", intent, topic, bucket, content)))
	return hex.EncodeToString(sum[:])
}
