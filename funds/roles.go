package funds

import (
	"errors"
	"sync"

	"github.com/cloudx-io/openbid/core"
)

var (
	ErrNotAdmin         = errors.New("caller does not hold the admin role")
	ErrInvalidSuccessor = errors.New("successor account must not be empty")
)

// Roles holds the single administrative principal of the auction house.
// The admin receives the platform fee at finalization and may hand the
// role to a successor at any time; the engine resolves the recipient at
// finalize time, so a transfer before settlement redirects the fee.
type Roles struct {
	mu    sync.Mutex
	admin core.Account
}

var _ core.AdminSource = (*Roles)(nil)

// NewRoles seats the initial admin.
func NewRoles(admin core.Account) *Roles {
	return &Roles{admin: admin}
}

// CurrentAdmin returns the account currently holding the admin role.
func (r *Roles) CurrentAdmin() core.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admin
}

// TransferAdmin hands the role to next. Only the current admin may call.
func (r *Roles) TransferAdmin(caller, next core.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrNotAdmin
	}
	if next == "" {
		return ErrInvalidSuccessor
	}
	r.admin = next
	return nil
}
