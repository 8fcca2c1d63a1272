// Package objectstore stores synthesized audio outside the worker: a NATS
// JetStream object store, an S3 bucket, and the Publisher that uploads each
// synthesized file and announces it.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsObjectStore implements core.ObjectStore on a JetStream object store
// bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Synthesized speech for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object, replacing any previous version under key.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    map[string]string{"content-type": contentTypeWAV},
		Opts:        nil,
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
