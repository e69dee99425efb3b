// Package blob stores task image attachments under
// todo_images/{ownerID}/{filename} paths.
package blob

import "context"

// Store is the contract for the attachment blob service.
type Store interface {
	Put(ctx context.Context, path string, data []byte) error
	DurableURL(ctx context.Context, path string) (string, error)
}

// Path builds the canonical attachment path for an owner and filename.
func Path(ownerID, filename string) string {
	return "todo_images/" + ownerID + "/" + filename
}
