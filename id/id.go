// Package id generates the identifiers strand assigns on the client:
// worker names, lock tokens and job ids for flow nodes.
//
// All of them are TypeIDs ("kind_suffix", UUIDv7 based), so they sort by
// creation time and never contain ':', which keeps them valid job ids and
// safe inside Redis keys.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Kind is the TypeID prefix naming what an identifier is for.
type Kind string

const (
	// KindWorker names a worker; stored on jobs as processedBy.
	KindWorker Kind = "wkr"
	// KindToken is a lock token, fresh for every claim.
	KindToken Kind = "tok"
	// KindJob is a job id assigned before the job reaches Redis.
	KindJob Kind = "job"
)

// ID is a parsed or generated TypeID. The zero value is empty.
type ID struct {
	tid typeid.TypeID
	ok  bool
}

// New generates an ID of the given kind. Kinds are compile-time
// constants, so a generation failure panics.
func New(kind Kind) ID {
	tid, err := typeid.Generate(string(kind))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", kind, err))
	}
	return ID{tid: tid, ok: true}
}

// Parse reads s as an ID of the given kind.
func Parse(s string, kind Kind) (ID, error) {
	tid, err := typeid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if got := Kind(tid.Prefix()); got != kind {
		return ID{}, fmt.Errorf("id: %q is a %q id, want %q", s, got, kind)
	}
	return ID{tid: tid, ok: true}, nil
}

// NewWorkerID generates a worker id.
func NewWorkerID() ID { return New(KindWorker) }

// NewToken generates a lock token.
func NewToken() string { return New(KindToken).String() }

// NewJobID generates a job id.
func NewJobID() string { return New(KindJob).String() }

// IsJobID reports whether s was generated by NewJobID.
func IsJobID(s string) bool {
	_, err := Parse(s, KindJob)
	return err == nil
}

func (i ID) String() string {
	if !i.ok {
		return ""
	}
	return i.tid.String()
}

// Kind returns the id's prefix, or "" for the zero ID.
func (i ID) Kind() Kind {
	if !i.ok {
		return ""
	}
	return Kind(i.tid.Prefix())
}

// IsZero reports whether i is the zero ID.
func (i ID) IsZero() bool { return !i.ok }
