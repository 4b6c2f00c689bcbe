package framestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a frame doesn't exist.
var ErrNotFound = errors.New("framestore: frame not found")

// ErrInvalidName is returned for names that are empty or contain a path
// separator.
var ErrInvalidName = errors.New("framestore: invalid frame name")

// ErrInvalidLocation is returned by Open for a location it can't parse.
var ErrInvalidLocation = errors.New("framestore: invalid location")

// Store is the interface for frame storage backends.
type Store interface {
	// Put stores data under name, replacing any previous frame.
	Put(ctx context.Context, name string, data []byte) error

	// Get returns the frame stored under name.
	Get(ctx context.Context, name string) ([]byte, error)

	// Location describes where frames go, for logs.
	Location() string
}

// FrameName returns the name of frame i: <prefix>-%08d.jpg.
func FrameName(prefix string, i int) string {
	return fmt.Sprintf("%s-%08d.jpg", prefix, i)
}

// Open returns a Store for location: s3://bucket/prefix selects S3 with
// the default AWS configuration; anything else is a directory.
func Open(ctx context.Context, location string) (Store, error) {
	loc, err := parseLocation(location)
	if err != nil {
		return nil, err
	}
	if loc.bucket != "" {
		return NewS3StoreFromEnv(ctx, loc.bucket, loc.prefix)
	}
	return NewDiskStore(loc.dir)
}

type location struct {
	dir    string
	bucket string
	prefix string
}

func parseLocation(s string) (location, error) {
	if s == "" {
		return location{}, fmt.Errorf("%w: empty", ErrInvalidLocation)
	}
	rest, ok := strings.CutPrefix(s, "s3://")
	if !ok {
		return location{dir: s}, nil
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return location{}, fmt.Errorf("%w: %q has no bucket", ErrInvalidLocation, s)
	}
	return location{bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
