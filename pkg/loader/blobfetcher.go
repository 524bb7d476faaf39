package loader

import (
	"context"

	"github.com/wehubfusion/fluxgraph/pkg/storage"
)

// BlobFetcher adapts storage.BlobStorageClient to the Fetcher interface so Graph and
// Node artifacts can be resolved from Azure Blob Storage in addition to, or instead
// of, a web origin. The url passed to Fetch is treated as a blob reference (a full
// blob URL or a container-relative path); extraction is delegated to the underlying
// client.
type BlobFetcher struct {
	client storage.BlobStorageClient
}

// NewBlobFetcher wraps an existing blob storage client as a Fetcher.
func NewBlobFetcher(client storage.BlobStorageClient) *BlobFetcher {
	return &BlobFetcher{client: client}
}

// Fetch downloads the artifact at the given blob reference.
func (f *BlobFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f.client.DownloadArtifact(ctx, url)
}
