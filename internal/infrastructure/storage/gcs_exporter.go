package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/oksasatya/user-directory/internal/application"
	"github.com/oksasatya/user-directory/pkg/helpers"
)

// GCSExporter writes directory snapshots as newline-delimited JSON objects
// under Prefix in Bucket.
type GCSExporter struct {
	client *gcs.Client
	Bucket string
	Prefix string
	now    func() time.Time
}

func NewGCSExporter(client *gcs.Client, bucket, prefix string) *GCSExporter {
	return &GCSExporter{client: client, Bucket: bucket, Prefix: prefix, now: time.Now}
}

func (e *GCSExporter) Export(ctx context.Context, users []application.UserView) (string, error) {
	var buf bytes.Buffer
	if err := WriteJSONLines(&buf, users); err != nil {
		return "", err
	}
	object := ObjectName(e.Prefix, e.now())
	meta := map[string]string{"rows": strconv.Itoa(len(users))}
	url, err := helpers.UploadObject(ctx, e.client, e.Bucket, object, "application/x-ndjson", meta, &buf)
	if err != nil {
		return "", fmt.Errorf("upload export %s: %w", object, err)
	}
	return url, nil
}

// ObjectName is prefix/users-<UTC timestamp>.jsonl.
func ObjectName(prefix string, at time.Time) string {
	return path.Join(prefix, "users-"+at.UTC().Format("20060102T150405Z")+".jsonl")
}

func WriteJSONLines(w io.Writer, users []application.UserView) error {
	enc := json.NewEncoder(w)
	for i := range users {
		if err := enc.Encode(&users[i]); err != nil {
			return fmt.Errorf("encode user %s: %w", users[i].ID, err)
		}
	}
	return nil
}

var _ application.Exporter = (*GCSExporter)(nil)
