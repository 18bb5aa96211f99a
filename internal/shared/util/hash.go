package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// OwnerPrefix returns a stable, path-safe namespace for an owner's objects.
// Owner ids are hashed so raw ids never appear in bucket listings.
func OwnerPrefix(ownerID int64) string {
	sum := sha256.Sum256([]byte("owner:" + strconv.FormatInt(ownerID, 10)))
	return hex.EncodeToString(sum[:16])
}
