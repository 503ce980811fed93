package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

// Commit ids are 40 hex characters, like git object names.
const commitIDLength = 40

type domainKey [32]byte

// Keys are the ASCII domain name zero-padded to 32 bytes.
var (
	commitDomainKey = domainKey{
		's', 'p', 'h', 'e', 'r', 'e', '.', 'l', 'e', 'd', 'g', 'e', 'r', '.',
		'c', 'o', 'm', 'm', 'i', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	treeDomainKey = domainKey{
		's', 'p', 'h', 'e', 'r', 'e', '.', 'l', 'e', 'd', 'g', 'e', 'r', '.',
		't', 'r', 'e', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

func newHasher(key domainKey) *blake3.Hasher {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("ledger: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return h
}

func writeField(h *blake3.Hasher, value string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(value)))
	h.Write(n[:])
	h.Write([]byte(value))
}

// commitID derives an id from the commit content, its position and a nonce.
func commitID(projectID, parent string, seq int, message, author, treeHash, nonce string, ts time.Time) string {
	h := newHasher(commitDomainKey)
	writeField(h, projectID)
	writeField(h, parent)
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(seq))
	binary.BigEndian.PutUint64(buf[8:], uint64(ts.UnixNano()))
	h.Write(buf[:])
	writeField(h, message)
	writeField(h, author)
	writeField(h, treeHash)
	writeField(h, nonce)
	return hex.EncodeToString(h.Sum(nil))[:commitIDLength]
}

// treeHash digests the sorted file list and contents under root. Each file
// is read once and its length is taken from the bytes read, so a listing
// that went stale before hashing cannot pair one version's size with
// another's content.
func treeHash(root string, files []domain.File) (string, error) {
	h := newHasher(treeDomainKey)
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
		if err != nil {
			return "", err
		}
		writeField(h, f.Path)
		writeField(h, string(data))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
