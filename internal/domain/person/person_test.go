package person

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"tendabike.dev/engine/internal/domain/tberr"
)

type fakePerson struct {
	id    ID
	admin bool
}

func (f fakePerson) UserID() ID   { return f.id }
func (f fakePerson) IsAdmin() bool { return f.admin }

func TestCheckOwnerAllowsSelf(t *testing.T) {
	assert.NoError(t, CheckOwner(fakePerson{id: 1}, 1, "not found"))
}

func TestCheckOwnerAllowsAdminForOthers(t *testing.T) {
	assert.NoError(t, CheckOwner(fakePerson{id: 2, admin: true}, 1, "not found"))
}

func TestCheckOwnerHidesExistenceAsNotFound(t *testing.T) {
	err := CheckOwner(fakePerson{id: 2}, 1, "part not found")
	assert.True(t, tberr.Is(err, tberr.KindNotFound))
}

func TestHasReadAccess(t *testing.T) {
	assert.True(t, HasReadAccess(fakePerson{id: 1}, 1))
	assert.True(t, HasReadAccess(fakePerson{id: 2, admin: true}, 1))
	assert.False(t, HasReadAccess(fakePerson{id: 2}, 1))
}
