package vault

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

// genesisHashSeed anchors the checkpoint hash chain before the first
// boundary is written.
const genesisHashSeed = "HedgeVault:genesis:v1"

// checkpointHasher chains a sha256 hash across epoch checkpoints. Each
// boundary hash commits to the previous hash, the epoch number, and a
// canonical digest of the checkpoint contents, so two nodes replaying the
// same oracle history must produce the same chain.
type checkpointHasher struct {
	lastHash []byte
}

func newCheckpointHasher() *checkpointHasher {
	seed := sha256.Sum256([]byte(genesisHashSeed))
	return &checkpointHasher{lastHash: seed[:]}
}

func (h *checkpointHasher) last() []byte {
	out := make([]byte, len(h.lastHash))
	copy(out, h.lastHash)
	return out
}

// advance computes and records the chain hash for the given epoch digest,
// returning the new hash and the previous one it commits to.
func (h *checkpointHasher) advance(epoch Epoch, digest []byte) (hash, prev []byte) {
	prev = h.last()

	hasher := sha256.New()
	hasher.Write(prev)

	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], uint64(epoch))
	hasher.Write(seq[:])
	hasher.Write(digest)

	h.lastHash = hasher.Sum(nil)
	return h.last(), prev
}

// checkpointDigest serializes the hashable fields of a checkpoint in a
// canonical order. Pair entries are sorted by ID so map iteration order
// cannot leak into the hash.
func checkpointDigest(cp *Checkpoint) []byte {
	ids := make([]string, 0, len(cp.Versions))
	for id := range cp.Versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	buf := make([]byte, 0, 64+len(ids)*72)
	buf = appendInt64(buf, int64(cp.Epoch))
	buf = appendInt64(buf, cp.Totals.TotalShares)
	buf = appendInt64(buf, cp.Totals.NetAssets)
	buf = appendInt64(buf, cp.GrossAssets)
	buf = appendInt64(buf, cp.MintedShares)
	buf = appendInt64(buf, cp.RedeemedAssets)
	buf = appendInt64(buf, cp.Timestamp)
	for _, id := range ids {
		buf = append(buf, id...)
		buf = appendInt64(buf, int64(cp.Versions[id]))
		snap := cp.Snapshots[id]
		buf = appendInt64(buf, snap.LongMaker)
		buf = appendInt64(buf, snap.ShortMaker)
		buf = appendInt64(buf, snap.LongCollateral)
		buf = appendInt64(buf, snap.ShortCollateral)
	}
	return buf
}

func appendInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}
