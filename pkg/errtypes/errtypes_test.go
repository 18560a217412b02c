package errtypes_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lpyedge/oxicloud/pkg/errtypes"
)

func TestMarkerInterfaces(t *testing.T) {
	var nf error = errtypes.NotFound("folder/F1")
	var isNF errtypes.IsNotFound
	assert.True(t, errors.As(nf, &isNF))

	var c error = errtypes.Conflict("a.txt")
	var isC errtypes.IsConflict
	assert.True(t, errors.As(c, &isC))

	var iv error = errtypes.InvariantViolation("move into self")
	var isIV errtypes.IsInvariantViolation
	assert.True(t, errors.As(iv, &isIV))
}

func TestIOErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := errtypes.IOError{Msg: "write temp file", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "write temp file")
}

func TestJoin(t *testing.T) {
	err := errtypes.Join(errtypes.NotFound("a"), errtypes.NotFound("b"))
	assert.Equal(t, "error: not found: a, error: not found: b", err.Error())
}
