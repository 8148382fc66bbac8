package protocol

import (
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/qkd/basis"
	"github.com/opd-ai/qkd/session"
)

// sift computes the sifted key for a session whose TryStartSifting
// transition this goroutine won.
//
// The comparison length is the minimum across every array the role needs,
// never an assumed common length: short reads and upstream truncation make
// unequal lengths routine. Positions with matching bases contribute one
// bit; the initiator takes it straight from its transmitted bitstream, the
// responder decodes its detected symbol under the matched basis. A
// basis-matched symbol that does not decode (a transmission or detection
// error) is replaced by a fresh random bit and counted as an anomaly; this
// substitution stands in for real error correction, which is future work.
func (e *Engine) sift(sess *session.Session) {
	snap := sess.Snapshot()
	handle := snap.Handle

	logrus.WithFields(logrus.Fields{
		"function":   "sift",
		"key_handle": handle,
		"role":       snap.Role.String(),
	}).Info("Performing key sifting")

	minLen := len(snap.LocalBases)
	if len(snap.PeerBases) < minLen {
		minLen = len(snap.PeerBases)
	}
	switch snap.Role {
	case session.RoleInitiator:
		if len(snap.RawBits) == 0 {
			sess.Fail(fmt.Sprintf("%v: initiator has no raw bits", ErrSiftingDataMissing))
			return
		}
		if len(snap.RawBits) < minLen {
			minLen = len(snap.RawBits)
		}
	case session.RoleResponder:
		if len(snap.Received) == 0 {
			sess.Fail(fmt.Sprintf("%v: responder has no detected symbols", ErrSiftingDataMissing))
			return
		}
		if len(snap.Received) < minLen {
			minLen = len(snap.Received)
		}
	}

	var stats session.SiftStats
	stats.Compared = minLen

	bits := make([]byte, 0, minLen)
	for i := 0; i < minLen; i++ {
		if snap.LocalBases[i] != snap.PeerBases[i] {
			stats.Mismatches++
			continue
		}
		stats.Matches++

		var bit byte
		if snap.Role == session.RoleInitiator {
			bit = snap.RawBits[i]
		} else {
			decoded, ok := basis.Decode(snap.LocalBases[i], snap.Received[i])
			if !ok {
				stats.Anomalies++
				sub, err := basis.RandomBits(1)
				if err != nil {
					sess.Fail(fmt.Sprintf("anomaly substitution failed: %v", err))
					return
				}
				logrus.WithFields(logrus.Fields{
					"function":   "sift",
					"key_handle": handle,
					"index":      i,
					"basis":      snap.LocalBases[i].String(),
					"symbol":     snap.Received[i].String(),
				}).Warn("Basis matched but symbol undecodable, substituting random bit")
				decoded = sub[0]
			}
			bit = decoded
		}
		bits = append(bits, bit)
	}

	keyHex := basis.BitsToHex(bits)
	stats.KeyBits = len(bits)
	stats.KeyFingerprint = keyFingerprint(keyHex)

	if err := sess.CompleteSift(keyHex, stats); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "sift",
			"key_handle": handle,
			"error":      err,
		}).Warn("Sift result discarded")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":        "sift",
		"key_handle":      handle,
		"compared":        stats.Compared,
		"matches":         stats.Matches,
		"mismatches":      stats.Mismatches,
		"anomalies":       stats.Anomalies,
		"key_bits":        stats.KeyBits,
		"mismatch_rate":   fmt.Sprintf("%.2f%%", stats.MismatchRate()),
		"key_fingerprint": stats.KeyFingerprint,
	}).Info("Sifting complete, key ready")
}

// keyFingerprint returns a short blake2b digest of the hex key, safe to
// log and compare across nodes without exposing key material.
func keyFingerprint(keyHex string) string {
	sum := blake2b.Sum256([]byte(keyHex))
	return hex.EncodeToString(sum[:8])
}
