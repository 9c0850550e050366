package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/schema"
)

// DefaultExtension marks files managed by the store.
const DefaultExtension = ".rec"

const separator = "_"

// FileName composes the file name of a record: <entity>_<ref><ext>.
func FileName(entity, ref, ext string) string {
	return entity + separator + ref + ext
}

// SplitFileName decomposes a store file name into entity and ref. Names
// with the extension that do not split into a valid entity name and a UUID
// ref fail with apperr.ErrInvalidFileName.
func SplitFileName(name, ext string) (entity, ref string, err error) {
	stem, ok := strings.CutSuffix(name, ext)
	if !ok {
		return "", "", fmt.Errorf("%w: %q lacks extension %q", apperr.ErrInvalidFileName, name, ext)
	}
	entity, ref, ok = strings.Cut(stem, separator)
	if !ok || !schema.ValidEntityName(entity) || strings.Contains(ref, separator) {
		return "", "", fmt.Errorf("%w: %q", apperr.ErrInvalidFileName, name)
	}
	if err := uuid.Validate(ref); err != nil {
		return "", "", fmt.Errorf("%w: %q: ref: %v", apperr.ErrInvalidFileName, name, err)
	}
	return entity, ref, nil
}

// ValidateRef checks that ref can appear in a file name.
func ValidateRef(ref string) error {
	if err := uuid.Validate(ref); err != nil {
		return fmt.Errorf("%w: ref %q: %v", apperr.ErrInvalidFileName, ref, err)
	}
	return nil
}

// NewRef returns a fresh time-ordered record reference.
func NewRef() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
