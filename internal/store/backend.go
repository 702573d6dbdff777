package store

import (
	"context"
	"errors"
)

// Kind names the type of a sealed record. A session holds at most one
// record per kind.
type Kind string

const (
	// KindCredential is the sealed OAuth credential.
	KindCredential Kind = "credential"
	// KindAuthSession is the sealed state of a pending authorization attempt.
	KindAuthSession Kind = "authsession"
	// KindSite is the sealed tracker site discovered after login.
	KindSite Kind = "site"
	// KindLastWorklog is the sealed undo record of the last worklog submission.
	KindLastWorklog Kind = "lastworklog"
)

// errRecordNotFound is the backend-level miss. Store maps it to the
// kind-specific sentinel before it leaves the package.
var errRecordNotFound = errors.New("sealed record not found")

// Info describes a live backend for health reporting.
type Info struct {
	Driver  string
	Version string
}

// Backend persists opaque sealed records keyed by (session, kind). The
// backend never sees plaintext. Put is an atomic upsert: concurrent
// writers resolve to last writer wins without application-level locking.
type Backend interface {
	Put(ctx context.Context, session string, kind Kind, sealed []byte) error
	Get(ctx context.Context, session string, kind Kind) ([]byte, error)
	Delete(ctx context.Context, session string, kind Kind) error

	// Take returns the record and deletes it in one atomic step so a
	// record can be consumed exactly once.
	Take(ctx context.Context, session string, kind Kind) ([]byte, error)

	Ping(ctx context.Context) (Info, error)
	Close() error
}
