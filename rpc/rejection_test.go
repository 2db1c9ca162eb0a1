package rpc

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejection_ErrorAndCode(t *testing.T) {
	rej := PermissionDenied("operation %q is not allowed", "deleteNote")

	assert.Equal(t, CodePermissionDenied, rej.Code())
	assert.Equal(t, `operation "deleteNote" is not allowed`, rej.Message())
	assert.Equal(t, `PERMISSION_DENIED: operation "deleteNote" is not allowed`, rej.Error())
	assert.Nil(t, rej.Details())
}

func TestRejection_LiteralMessageKeepsPercent(t *testing.T) {
	rej := NewRejection(CodeInvalidRequest, "100% broken")
	assert.Equal(t, "100% broken", rej.Message())
	assert.Equal(t, CodeInvalidRequest, rej.Code())

	rej = InvalidRequest("%s", "100% broken")
	assert.Equal(t, "100% broken", rej.Message())

	rej = Rejectf(CodePermissionDenied, "note %q at %d%%", "n1", 50)
	assert.Equal(t, `note "n1" at 50%`, rej.Message())
}

func TestRejection_TooManyRequestsCarriesRetryAfter(t *testing.T) {
	rej := TooManyRequests(42)

	assert.Equal(t, CodeTooManyRequests, rej.Code())
	assert.Equal(t, map[string]any{RetryAfterDetail: 42}, rej.Details())

	d, ok := rej.RetryAfter()
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, d)

	_, ok = Internal().RetryAfter()
	assert.False(t, ok)
}

func TestRejection_WithDetailCopies(t *testing.T) {
	base := TooManyRequests(1)
	extended := base.WithDetail("reason", "in flight")

	assert.Len(t, base.Details(), 1)
	assert.Len(t, extended.Details(), 2)

	details := extended.Details()
	details["reason"] = "mutated"
	assert.Equal(t, "in flight", extended.Details()["reason"])
}

func TestAsRejection_FindsWrapped(t *testing.T) {
	err := fmt.Errorf("load note: %w", PermissionDenied("nope"))

	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodePermissionDenied, rej.Code())
	assert.Equal(t, CodePermissionDenied, CodeOf(err))

	_, ok = AsRejection(errors.New("boom"))
	assert.False(t, ok)
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestInternal_HidesCause(t *testing.T) {
	assert.Equal(t, "INTERNAL: internal error", Internal().Error())
}

func TestActor_Anonymous(t *testing.T) {
	assert.True(t, NewActor("").IsAnonymous())
	assert.True(t, NewActor("   ").IsAnonymous())
	assert.Equal(t, Anonymous, NewActor(""))
	assert.Equal(t, "anonymous", Anonymous.String())

	alice := NewActor(" alice ")
	assert.False(t, alice.IsAnonymous())
	assert.Equal(t, "alice", alice.ID)
	assert.Equal(t, "alice", alice.String())
}

func TestMethods_Names(t *testing.T) {
	m := Methods{"b": nil, "a": nil, "c": nil}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, m.Names())
}
