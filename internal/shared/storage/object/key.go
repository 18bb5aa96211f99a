package object

import (
	"fmt"
	"path"

	"github.com/google/uuid"

	"docmind-backend/internal/shared/util"
)

// NewKey builds a fresh storage key of the form <owner-prefix>/<uuid>_<name>.
func NewKey(ownerID int64, fileName string) (string, error) {
	sanitized, err := util.SanitizeFileName(fileName)
	if err != nil {
		return "", fmt.Errorf("sanitize file name: %w", err)
	}
	return path.Join(util.OwnerPrefix(ownerID), uuid.NewString()+"_"+sanitized), nil
}
