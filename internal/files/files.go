// Package files stores raw uploaded document bytes.
package files

// Storage stores and retrieves the original bytes of uploaded documents.
// Store returns an opaque handle that Read and Delete accept; the metadata
// store keeps the handle so a document can be re-processed later.
type Storage interface {
	Store(filename string, content []byte) (handle string, err error)
	Read(handle string) ([]byte, error)
	Delete(handle string) error
}
