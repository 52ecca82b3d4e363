// Package fingerprint derives the four-level hash set used for clustering.
//
// All hashes are 32-byte BLAKE3 keyed digests. Each level uses a fixed
// ASCII domain key, and each input field is length-prefixed before hashing,
// so fingerprints are stable across process restarts and reproducible by
// any implementation that follows the same serialization:
//
//	exact    = blake3_keyed(exactKey,    field(message))
//	template = blake3_keyed(templateKey, field(template))
//	semantic = blake3_keyed(semanticKey, field(exceptionType) || field(category) || field(template))
//	category = blake3_keyed(categoryKey, field(exceptionType) || field(category))
//
// where field(s) is len(s) as 8 big-endian bytes followed by the UTF-8
// bytes of s. The template hash is the primary clustering key.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"

	"github.com/tinytelemetry/faultline/internal/model"
)

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain separation
// keeps the four levels collision-free against each other even when their
// serialized inputs coincide. The byte values are the ASCII encoding of
// the domain name, zero-padded to 32 bytes; changing them invalidates all
// stored fingerprints.
type domainKey [32]byte

var (
	exactDomainKey = domainKey{
		'f', 'a', 'u', 'l', 't', 'l', 'i', 'n', 'e', '.', 'f', 'p', '.',
		'e', 'x', 'a', 'c', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	templateDomainKey = domainKey{
		'f', 'a', 'u', 'l', 't', 'l', 'i', 'n', 'e', '.', 'f', 'p', '.',
		't', 'e', 'm', 'p', 'l', 'a', 't', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	semanticDomainKey = domainKey{
		'f', 'a', 'u', 'l', 't', 'l', 'i', 'n', 'e', '.', 'f', 'p', '.',
		's', 'e', 'm', 'a', 'n', 't', 'i', 'c', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	categoryDomainKey = domainKey{
		'f', 'a', 'u', 'l', 't', 'l', 'i', 'n', 'e', '.', 'f', 'p', '.',
		'c', 'a', 't', 'e', 'g', 'o', 'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	dedupDomainKey = domainKey{
		'f', 'a', 'u', 'l', 't', 'l', 'i', 'n', 'e', '.', 'd', 'e', 'd', 'u', 'p',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	clusterDomainKey = domainKey{
		'f', 'a', 'u', 'l', 't', 'l', 'i', 'n', 'e', '.', 'c', 'l', 'u', 's', 't', 'e', 'r',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Compute derives the full fingerprint set for an event. It is a pure
// function of (event, normalized); no hidden state participates.
func Compute(event *model.LogEvent, normalized *model.NormalizedEvent) model.FingerprintSet {
	category := string(normalized.Category)
	return model.FingerprintSet{
		Exact:    keyedHash(exactDomainKey, event.Message),
		Template: keyedHash(templateDomainKey, normalized.Template),
		Semantic: keyedHash(semanticDomainKey, event.ExceptionType, category, normalized.Template),
		Category: keyedHash(categoryDomainKey, event.ExceptionType, category),
	}
}

// DedupHash computes the content hash used by the deduplication window:
// message, exception type, logger, and the timestamp rounded down to the
// second, so retried deliveries of the same occurrence collide.
func DedupHash(event *model.LogEvent) model.Fingerprint {
	rounded := ""
	if !event.Timestamp.IsZero() {
		rounded = event.Timestamp.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05")
	}
	return keyedHash(dedupDomainKey, event.Message, event.ExceptionType, event.Logger, rounded)
}

// ClusterID derives the stable cluster identifier for a (tenant, template
// fingerprint) pair: "cl-" followed by 16 hex characters.
func ClusterID(tenant string, template model.Fingerprint) string {
	h := keyedHash(clusterDomainKey, tenant, template.String())
	return "cl-" + hex.EncodeToString(h[:8])
}

// keyedHash hashes the length-prefixed fields under the given domain key.
func keyedHash(key domainKey, fields ...string) model.Fingerprint {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on wrong key length, which domainKey rules out.
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var length [8]byte
	for _, field := range fields {
		binary.BigEndian.PutUint64(length[:], uint64(len(field)))
		hasher.Write(length[:])
		hasher.Write([]byte(field))
	}

	var fp model.Fingerprint
	copy(fp[:], hasher.Sum(nil))
	return fp
}
