package utils

import "github.com/spf13/afero"

// Dependency injection for Afero
type Fs afero.Fs

type File afero.File

// Path selecting an in-memory filesystem.
const MemoryPath = "memory"

// Creates a filesystem rooted at dir, or an in-memory one for MemoryPath.
func NewFs(dir string) Fs {
	if dir == MemoryPath {
		return afero.NewMemMapFs()
	}
	return afero.NewBasePathFs(afero.NewOsFs(), dir)
}
