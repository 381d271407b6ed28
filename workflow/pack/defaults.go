package pack

import (
	"embed"
	"fmt"
)

// Keys of the built-in packs.
const (
	GenericPackKey    = "generic"
	CoachingPackKey   = "coaching"
	RecruitingPackKey = "recruiting"
)

//go:embed packs/*.yaml
var builtin embed.FS

// Builtin returns the packs shipped with the binary.
func Builtin() ([]Pack, error) {
	packs, err := LoadFS(builtin, "packs")
	if err != nil {
		return nil, fmt.Errorf("pack: load built-in packs: %w", err)
	}
	return packs, nil
}

// DefaultCatalog returns a catalog of the built-in packs.
func DefaultCatalog() (*Catalog, error) {
	packs, err := Builtin()
	if err != nil {
		return nil, err
	}
	return NewCatalog(packs...)
}
