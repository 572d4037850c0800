// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package artifact

import (
	"context"
	"path"

	"cloud.google.com/go/storage"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// Publisher copies a trained artifact to durable storage outside the
// cluster.
type Publisher interface {
	Publish(ctx context.Context, name string, data []byte, d digest.Digest) (string, error)
	Close() error
}

// GCSPublisher uploads artifacts to a Cloud Storage bucket under
// "<prefix>/<name>".
type GCSPublisher struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSPublisher connects to Cloud Storage. Application default
// credentials are used unless opts say otherwise.
func NewGCSPublisher(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSPublisher, error) {
	if bucket == "" {
		return nil, errors.New("a bucket name is required to publish artifacts")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage client")
	}
	return &GCSPublisher{client: client, bucket: bucket, prefix: prefix}, nil
}

// ObjectName is the object key an artifact called name is stored under.
func (p *GCSPublisher) ObjectName(name string) string {
	return objectName(p.prefix, name)
}

func objectName(prefix, name string) string {
	if prefix == "" {
		return path.Base(name)
	}
	return path.Join(prefix, path.Base(name))
}

// Publish uploads data and records its digest as object metadata. It
// returns the gs:// URL of the object.
func (p *GCSPublisher) Publish(ctx context.Context, name string, data []byte, d digest.Digest) (string, error) {
	key := p.ObjectName(name)
	w := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/gzip"
	w.Metadata = map[string]string{"digest": d.String()}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", errors.Wrapf(err, "failed to upload gs://%s/%s", p.bucket, key)
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrapf(err, "failed to upload gs://%s/%s", p.bucket, key)
	}
	return "gs://" + p.bucket + "/" + key, nil
}

// Close releases the storage client.
func (p *GCSPublisher) Close() error {
	return p.client.Close()
}
