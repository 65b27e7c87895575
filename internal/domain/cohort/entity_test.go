package cohort

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/pkg/errors"
)

func adultsTree() *filter.Group {
	return &filter.Group{Logic: filter.LogicAnd, Rules: []filter.Node{
		&filter.Rule{Field: "age", Operator: filter.OpGTE, Value: 18.0},
	}}
}

func TestNew_InlineFilter(t *testing.T) {
	c, err := New("adults", "", "md-1", "user-1", nil, adultsTree())
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Nil(t, c.FilterID)
	assert.NotNil(t, c.Filter)
	assert.NoError(t, c.Validate())
}

func TestNew_SavedFilterReference(t *testing.T) {
	fid := "flt-1"
	c, err := New("adults", "", "md-1", "user-1", &fid, nil)
	require.NoError(t, err)
	require.NotNil(t, c.FilterID)
	assert.Equal(t, "flt-1", *c.FilterID)
	assert.Nil(t, c.Filter)
}

func TestValidate_FilterSourceXOR(t *testing.T) {
	fid := "flt-1"

	// Both sources set.
	_, err := New("adults", "", "md-1", "user-1", &fid, adultsTree())
	assert.True(t, errors.IsCode(err, errors.ErrCodeCohortFilterConflict), "got %v", err)

	// Neither source set.
	_, err = New("adults", "", "md-1", "user-1", nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCohortFilterConflict), "got %v", err)

	// Empty-string reference counts as unset.
	empty := ""
	_, err = New("adults", "", "md-1", "user-1", &empty, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCohortFilterConflict), "got %v", err)
}

func TestValidate_DetachedCohort(t *testing.T) {
	fid := "flt-1"
	c, err := New("adults", "", "md-1", "user-1", &fid, nil)
	require.NoError(t, err)
	require.False(t, c.Detached())

	// Deleting the saved filter clears the reference in the database; the
	// stored cohort must remain valid.
	c.FilterID = nil
	assert.True(t, c.Detached())
	assert.NoError(t, c.Validate())
}

func TestValidate_InlineTreeChecked(t *testing.T) {
	_, err := New("adults", "", "md-1", "user-1", nil,
		&filter.Group{Logic: filter.LogicAnd})
	assert.True(t, errors.IsCode(err, errors.ErrCodeFilterEmptyGroup), "got %v", err)
}

func TestSetMembers(t *testing.T) {
	c, err := New("adults", "", "md-1", "user-1", nil, adultsTree())
	require.NoError(t, err)

	c.SetMembers([]string{"1", "3"})
	assert.Equal(t, 2, c.PatientCount)
	assert.Equal(t, []string{"1", "3"}, c.PatientIDs)

	set := c.MemberSet()
	_, ok := set["1"]
	assert.True(t, ok)
	_, ok = set["2"]
	assert.False(t, ok)
}
