package withdrawal

import (
	"context"
	"io"
	"path"
	"strings"
)

// ObjectStore keeps uploaded proof files.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
}

var allowedContentTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

func objectKey(link ProofLink, uploadID, contentType, filename string) string {
	ext := allowedContentTypes[contentType]
	if e := strings.ToLower(path.Ext(filename)); e != "" && len(e) <= 5 {
		ext = e
	}
	return path.Join(string(link.Kind)+"s", link.ID, uploadID+ext)
}
