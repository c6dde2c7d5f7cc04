package funds

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/openbid/core"
)

func TestRoles_TransferAdmin(t *testing.T) {
	r := NewRoles(alice)
	check.Equal(t, alice, r.CurrentAdmin())

	// Only the seated admin can hand the role over.
	check.True(t, errors.Is(r.TransferAdmin(bob, bob), ErrNotAdmin))
	check.Equal(t, alice, r.CurrentAdmin())

	check.True(t, errors.Is(r.TransferAdmin(alice, ""), ErrInvalidSuccessor))
	check.Equal(t, alice, r.CurrentAdmin())

	check.Nil(t, r.TransferAdmin(alice, bob))
	check.Equal(t, bob, r.CurrentAdmin())

	// The former admin lost the role with the handover.
	check.True(t, errors.Is(r.TransferAdmin(alice, core.Account("carol")), ErrNotAdmin))
	check.Nil(t, r.TransferAdmin(bob, core.Account("carol")))
	check.Equal(t, core.Account("carol"), r.CurrentAdmin())
}
