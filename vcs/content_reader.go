package vcs

import (
	"os"
)

// ContentReader is a function that reads file content given a file path.
// This allows the caller to control how files are read (filesystem, git, etc.)
type ContentReader func(filePath string) ([]byte, error)

// FilesystemContentReader returns a ContentReader that reads from the working tree.
func FilesystemContentReader() ContentReader {
	return os.ReadFile
}

// MapContentReader returns a ContentReader over an in-memory file map.
// Missing paths report os.ErrNotExist.
func MapContentReader(files map[string]string) ContentReader {
	return func(filePath string) ([]byte, error) {
		content, ok := files[filePath]
		if !ok {
			return nil, &os.PathError{Op: "read", Path: filePath, Err: os.ErrNotExist}
		}
		return []byte(content), nil
	}
}
