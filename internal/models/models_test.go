package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDistributionMode(t *testing.T) {
	cases := map[string]DistributionMode{
		"":                  DistributionNone,
		"none":              DistributionNone,
		"Direct-Assignment": DistributionDirect,
		"direct":            DistributionDirect,
		"Round-Robin":       DistributionRoundRobin,
		"round_robin":       DistributionRoundRobin,
		"Least-Busy":        DistributionLeastBusy,
		"LEAST BUSY":        DistributionLeastBusy,
	}
	for input, want := range cases {
		got, err := ParseDistributionMode(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseDistributionMode("random")
	assert.Error(t, err)
}

func TestDistributionModeTextRoundTrip(t *testing.T) {
	var mode DistributionMode
	require.NoError(t, mode.UnmarshalText([]byte("Round-Robin")))
	assert.Equal(t, DistributionRoundRobin, mode)

	text, err := mode.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Round-Robin", string(text))
}

func TestUnionIDsKeepsOrderAndDropsDuplicates(t *testing.T) {
	got := UnionIDs([]string{"a", "b"}, "b", "c", "", "a")
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Nil(t, UnionIDs(nil))
}

func TestEmailLinkageIsSetUnion(t *testing.T) {
	e := &Email{UserIDs: []string{"u1"}}
	e.AddUserIDs("u1", "u2")
	e.AddUserIDs("u2")
	e.AddTeamIDs("t1", "t1")
	assert.Equal(t, []string{"u1", "u2"}, e.UserIDs)
	assert.Equal(t, []string{"t1"}, e.TeamIDs)
}

func TestCaseAssignSetsStatus(t *testing.T) {
	c := NewCase()
	assert.Equal(t, CaseStatusNew, c.Status)

	c.Assign("")
	assert.False(t, c.IsAssigned())
	assert.Equal(t, CaseStatusNew, c.Status)

	c.Assign("u1")
	assert.True(t, c.IsAssigned())
	assert.Equal(t, CaseStatusAssigned, c.Status)
}

func TestCloneIsDeep(t *testing.T) {
	e := &Email{UserIDs: []string{"u1"}, Parent: &ParentLink{Type: EntityCase, ID: "c1"}}
	clone := e.Clone()
	clone.UserIDs[0] = "changed"
	clone.Parent.ID = "c2"
	assert.Equal(t, "u1", e.UserIDs[0])
	assert.Equal(t, "c1", e.Parent.ID)

	c := &Case{TeamIDs: []string{"t1"}, Extra: map[string]any{"k": 1}}
	cc := c.Clone()
	cc.TeamIDs[0] = "t2"
	cc.Extra["k"] = 2
	assert.Equal(t, "t1", c.TeamIDs[0])
	assert.Equal(t, 1, c.Extra["k"])
}

func TestContactAddressMatchIgnoresCase(t *testing.T) {
	c := &Contact{EmailAddresses: []string{"Jane@Example.com"}}
	assert.True(t, c.HasEmailAddress(" jane@example.COM "))
	assert.False(t, c.HasEmailAddress("john@example.com"))
	assert.False(t, c.HasEmailAddress(""))
}
