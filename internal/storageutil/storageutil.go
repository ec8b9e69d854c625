package storageutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrObjectNotFound indicates an object was not found.
var ErrObjectNotFound = errors.New("object not found")

const defaultTimeout = 30 * time.Second

// CompressedWrite encodes d as JSON, compresses it with lz4 and writes it
// to the bucket.
func CompressedWrite(ctx context.Context, b *blob.Bucket, objectName string, d interface{}) error {
	return WriteObject(ctx, b, objectName, "application/x-lz4", func(w io.Writer) error {
		zw := lz4.NewWriter(w)
		_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
		err := json.NewEncoder(zw).Encode(d)
		if err != nil {
			return err
		}
		return zw.Close()
	})
}

// WriteJSON writes d as plain JSON to the bucket.
func WriteJSON(ctx context.Context, b *blob.Bucket, objectName string, d interface{}) error {
	return WriteObject(ctx, b, objectName, "application/json", func(w io.Writer) error {
		return json.NewEncoder(w).Encode(d)
	})
}

// WriteObject opens a writer on the object and hands it to write. The
// object is only committed if write succeeds.
func WriteObject(ctx context.Context, b *blob.Bucket, objectName, contentType string, write func(w io.Writer) error) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	// cancelling the writer context discards the object
	wctx, abort := context.WithCancel(ctx)
	defer abort()
	ow, err := b.NewWriter(wctx, objectName, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return err
	}
	if err := write(ow); err != nil {
		abort()
		_ = ow.Close()
		return fmt.Errorf("storageutil: writing %s: %w", objectName, err)
	}
	return ow.Close()
}

// UnmarshalCompressed reads lz4 compressed JSON data from the bucket and
// unmarshals it.
func UnmarshalCompressed(ctx context.Context, b *blob.Bucket, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	or, err := b.NewReader(ctx, objectName, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return ErrObjectNotFound
		}
		return err
	}
	defer or.Close()
	zr := lz4.NewReader(or)
	err = json.NewDecoder(zr).Decode(d)
	if err != nil {
		return err
	}
	return nil
}
