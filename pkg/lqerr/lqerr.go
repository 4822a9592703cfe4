// Package lqerr gives every recoverable failure in the core a stable,
// short category so callers above the core can switch on it instead of
// string-matching an error message.
package lqerr

import "fmt"

// Category names the failure kind. Only Config is fatal; every other
// category is recoverable by its caller.
type Category string

const (
	Config   Category = "config"   // preflight failure: bad config, missing interface, etc.
	Kernel   Category = "kernel"   // tc (or equivalent) returned non-zero
	Bus      Category = "bus"      // request-bus RPC failure or timeout
	Parse    Category = "parse"    // malformed handle, JSON, or inventory record
	Protocol Category = "protocol" // LTS framing/decryption failure
	License  Category = "license" // Denied or Unknown license state
)

// Error wraps an underlying error with a Category so the caller can
// decide whether to retry, skip, or terminate without inspecting text.
type Error struct {
	Cat Category
	Op  string // short operation name, e.g. "qdisc.apply", "lts.dial"
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("[%s] %v", e.Cat, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Cat, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a category and operation name. Returns nil if err
// is nil, so it composes with the usual `if err != nil` guard.
func New(cat Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Cat: cat, Op: op, Err: err}
}

// CategoryOf extracts the Category from err, if it (or something it
// wraps) is an *Error. ok is false for plain errors.
func CategoryOf(err error) (cat Category, ok bool) {
	var e *Error
	if asError(err, &e) {
		return e.Cat, true
	}
	return "", false
}

// asError is a tiny errors.As specialization kept local to avoid an
// import cycle concern and to keep the package dependency-free.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, matches := err.(*Error); matches {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
