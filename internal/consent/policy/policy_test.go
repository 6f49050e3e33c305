package policy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "healthshare/pkg/domain"
	dErrors "healthshare/pkg/domain-errors"
)

func TestAuthorize_OwnerAllowed(t *testing.T) {
	owner := id.UserID(uuid.New())

	for _, op := range []Operation{OpRead, OpInsert, OpUpdate, OpDelete} {
		assert.NoError(t, Authorize(owner, op, owner), string(op))
	}
}

func TestAuthorize_ForeignPrincipalForbidden(t *testing.T) {
	owner := id.UserID(uuid.New())
	attacker := id.UserID(uuid.New())

	for _, op := range []Operation{OpRead, OpInsert, OpUpdate, OpDelete} {
		err := Authorize(attacker, op, owner)
		require.Error(t, err, string(op))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden), string(op))
	}
}

func TestAuthorize_NilPrincipalUnauthorized(t *testing.T) {
	err := Authorize(id.UserID{}, OpRead, id.UserID(uuid.New()))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized),
		"missing identity is unauthorized, not forbidden")
}
