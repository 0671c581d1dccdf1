// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bundle

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// Sink receives finished artifacts.
type Sink interface {
	// Write stores data under name and returns where it went.
	Write(ctx context.Context, name string, data []byte) (string, error)

	// Close releases the sink.
	Close() error
}

// FileSink writes artifacts into a local directory.
type FileSink struct {
	dir string
}

// NewFileSink creates a sink rooted at dir. The directory is created on
// first write.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Write implements Sink. The file is written to a temporary sibling and
// renamed into place.
func (s *FileSink) Write(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		sinkWritesTotal.WithLabelValues("file", "error").Inc()
		return "", fmt.Errorf("creating output dir %s: %w", s.dir, err)
	}

	dest := filepath.Join(s.dir, name)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		sinkWritesTotal.WithLabelValues("file", "error").Inc()
		return "", fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		sinkWritesTotal.WithLabelValues("file", "error").Inc()
		return "", fmt.Errorf("renaming %s: %w", tmp, err)
	}
	sinkWritesTotal.WithLabelValues("file", "ok").Inc()
	return dest, nil
}

// Close implements Sink.
func (s *FileSink) Close() error { return nil }

// GCSSink uploads artifacts to a Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink opens a storage client for gs://bucket/prefix destinations.
func NewGCSSink(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSSink, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Write implements Sink.
func (s *GCSSink) Write(ctx context.Context, name string, data []byte) (string, error) {
	object := name
	if s.prefix != "" {
		object = s.prefix + "/" + name
	}

	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/javascript"
	if _, err := w.Write(data); err != nil {
		w.Close()
		sinkWritesTotal.WithLabelValues("gcs", "error").Inc()
		return "", fmt.Errorf("uploading %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		sinkWritesTotal.WithLabelValues("gcs", "error").Inc()
		return "", fmt.Errorf("finalizing %s: %w", object, err)
	}
	sinkWritesTotal.WithLabelValues("gcs", "ok").Inc()
	return gcsScheme + s.bucket + "/" + object, nil
}

// Close implements Sink.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

// ParseGCSURL splits gs://bucket/object. The object may be empty.
func ParseGCSURL(dest string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(dest, gcsScheme) {
		return "", "", fmt.Errorf("%w: %q is not a gs:// url", ErrInvalidDestination, dest)
	}
	rest := strings.TrimPrefix(dest, gcsScheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", ErrInvalidDestination, dest)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// DefaultArtifactName is the object name used when a destination names
// a directory or a bucket prefix.
const DefaultArtifactName = "JVM.min.js"

// IsRemoteDestination reports whether dest names a Cloud Storage object.
func IsRemoteDestination(dest string) bool {
	return strings.HasPrefix(dest, gcsScheme)
}

// LocalDestination returns the absolute path a local destination resolves
// to. Relative paths are taken from the working directory.
func LocalDestination(dest string) (string, error) {
	if dest == "" || IsRemoteDestination(dest) {
		return "", fmt.Errorf("%w: %q is not a local path", ErrInvalidDestination, dest)
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dest, err)
	}
	if strings.HasSuffix(dest, "/") || strings.HasSuffix(dest, string(filepath.Separator)) {
		abs += string(filepath.Separator)
	}
	return abs, nil
}

// OpenDestination resolves dest to a sink and the name to write under.
//
// Description:
//
//	gs://bucket/prefix/name.js uploads to Cloud Storage. Anything else is
//	a local path, resolved against the working directory when relative.
//	A destination without a file extension, or ending in a separator,
//	names a directory and receives DefaultArtifactName.
func OpenDestination(ctx context.Context, dest string, opts ...option.ClientOption) (Sink, string, error) {
	if dest == "" {
		return nil, "", fmt.Errorf("%w: empty destination", ErrInvalidDestination)
	}

	if IsRemoteDestination(dest) {
		bucket, object, err := ParseGCSURL(dest)
		if err != nil {
			return nil, "", err
		}
		prefix, name := object, DefaultArtifactName
		if path.Ext(object) != "" {
			prefix, name = path.Dir(object), path.Base(object)
			if prefix == "." {
				prefix = ""
			}
		}
		sink, err := NewGCSSink(ctx, bucket, prefix, opts...)
		if err != nil {
			return nil, "", err
		}
		return sink, name, nil
	}

	local, err := LocalDestination(dest)
	if err != nil {
		return nil, "", err
	}
	if isDirDestination(local) {
		return NewFileSink(filepath.Clean(local)), DefaultArtifactName, nil
	}
	return NewFileSink(filepath.Dir(local)), filepath.Base(local), nil
}

func isDirDestination(dest string) bool {
	if strings.HasSuffix(dest, string(filepath.Separator)) || filepath.Ext(dest) == "" {
		return true
	}
	info, err := os.Stat(dest)
	return err == nil && info.IsDir()
}
