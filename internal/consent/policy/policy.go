// Package policy is the access control rule set for consent records: a
// capability check, not a separate process. It is consulted by every store
// implementation so that the transport layer is never the only gate.
package policy

import (
	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

// Operation classifies what the principal is attempting.
type Operation string

const (
	OpRead   Operation = "read"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Authorize allows the operation iff the acting principal is the record's
// owner. For inserts the candidate record's owner field must equal the
// principal: a user cannot create a record on another's behalf.
//
// A nil principal is an unauthorized request, not a denial; callers with no
// identity should not reach the store at all.
func Authorize(principal id.UserID, op Operation, ownerID id.UserID) error {
	if principal.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "missing principal")
	}
	if principal != ownerID {
		// All four operations share the owner-only rule today.
		return dErrors.New(dErrors.CodeForbidden, string(op)+" denied: principal does not own consent record")
	}
	return nil
}
