package at

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUnsupported(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUnsupported(&CommandError{Result: FinalResults.NotSupported}))
	assert.True(t, IsUnsupported(&EquipmentError{Code: CmeNotSupported}))

	// A bare ERROR is a rejection by a device that implements the
	// command; it must not pass for an unimplemented one.
	assert.False(t, IsUnsupported(&CommandError{Result: FinalResults.Error}))
	assert.False(t, IsUnsupported(&CommandError{Result: FinalResults.Busy}))
	assert.False(t, IsUnsupported(&EquipmentError{Code: CmeIncorrectPassword}))
	assert.False(t, IsUnsupported(ErrTimeout))
	assert.False(t, IsUnsupported(nil))
}

func TestFinalToError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, finalToError(FinalResults.Ok, "OK"))

	err := finalToError(FinalResults.CmeError, "+CME ERROR: 11")
	cme, ok := err.(*EquipmentError)
	assert.True(t, ok)
	assert.Equal(t, CmeSimPinRequired, cme.Code)

	err = finalToError(FinalResults.CmsError, "+CMS ERROR: 321")
	cms, ok := err.(*MessageError)
	assert.True(t, ok)
	assert.Equal(t, 321, cms.Code)

	err = finalToError(FinalResults.NoCarrier, "NO CARRIER")
	assert.Error(t, err)
}
