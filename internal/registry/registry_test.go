package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dori/taskgate/internal/model"
)

func intp(n int) *int { return &n }

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"example.com":                     "example.com",
		"  Example.COM ":                  "example.com",
		"https://www.reddit.com/r/golang": "reddit.com",
		"news.ycombinator.com/item?id=1":  "news.ycombinator.com",
		"twitter.com:443":                 "twitter.com",
		"localhost":                       "localhost",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "   ", "nodot", "http://", "a b.com"} {
		_, err := Normalize(bad)
		assert.ErrorIs(t, err, ErrInvalidDomain, bad)
	}
}

func TestMatchHost(t *testing.T) {
	sites := []string{"reddit.com", "x.com"}

	site, ok := MatchHost("old.reddit.com", sites)
	assert.True(t, ok)
	assert.Equal(t, "reddit.com", site)

	site, ok = MatchHost("X.com:443", sites)
	assert.True(t, ok)
	assert.Equal(t, "x.com", site)

	_, ok = MatchHost("notreddit.com", sites)
	assert.False(t, ok)
}

func TestAddGroupRejectsConflicts(t *testing.T) {
	r := New([]string{"a.com", "b.com", "c.com"}, nil, nil)

	social, err := r.AddGroup(GroupInput{Name: "Social", Sites: []string{"a.com", "b.com"}})
	require.NoError(t, err)
	news, err := r.AddGroup(GroupInput{Name: "News", Sites: []string{"c.com"}})
	require.NoError(t, err)

	_, err = r.AddGroup(GroupInput{Name: "Other", Sites: []string{"b.com"}})
	assert.ErrorIs(t, err, ErrGroupConflict)
	assert.Contains(t, err.Error(), "Social")

	_, err = r.UpdateGroup(news.ID, GroupInput{Name: "News", Sites: []string{"c.com", "a.com"}})
	assert.ErrorIs(t, err, ErrGroupConflict)

	g, _ := r.Group(social.ID)
	assert.Equal(t, []string{"a.com", "b.com"}, g.Sites)
	g, _ = r.Group(news.ID)
	assert.Equal(t, []string{"c.com"}, g.Sites)
	assert.Len(t, r.Groups, 2)
}

func TestAddGroupValidation(t *testing.T) {
	r := New(nil, nil, nil)

	_, err := r.AddGroup(GroupInput{Name: " ", Sites: []string{"a.com"}})
	assert.ErrorIs(t, err, ErrEmptyGroup)
	_, err = r.AddGroup(GroupInput{Name: "x"})
	assert.ErrorIs(t, err, ErrEmptyGroup)
	_, err = r.AddGroup(GroupInput{Name: "x", Sites: []string{"a.com"}, Cost: intp(0)})
	assert.ErrorIs(t, err, ErrInvalidCost)
	assert.Empty(t, r.Groups)
}

func TestAddGroupAdoptsSites(t *testing.T) {
	r := New([]string{"a.com"}, nil, nil)
	g, err := r.AddGroup(GroupInput{Name: "G", Sites: []string{"a.com", "https://www.b.com/", "b.com"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, g.Sites)
	assert.Equal(t, []string{"a.com", "b.com"}, r.Sites)
}

func TestUpdateGroupKeepsOwnSites(t *testing.T) {
	r := New(nil, nil, nil)
	g, err := r.AddGroup(GroupInput{Name: "G", Sites: []string{"a.com"}})
	require.NoError(t, err)

	updated, err := r.UpdateGroup(g.ID, GroupInput{Name: "G2", Sites: []string{"a.com", "b.com"}, Cost: intp(3)})
	require.NoError(t, err)
	assert.Equal(t, "G2", updated.Name)
	assert.Equal(t, 3, *updated.Cost)

	_, err = r.UpdateGroup("missing", GroupInput{Name: "x", Sites: []string{"c.com"}})
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestCostPrecedence(t *testing.T) {
	r := New([]string{"a.com", "b.com"}, nil, nil)
	_, err := r.UpdateSiteSettings("a.com", SettingsPatch{Cost: intp(4)})
	require.NoError(t, err)

	c := r.CostFor("a.com")
	require.NotNil(t, c)
	assert.Equal(t, 4, c.Cost)
	assert.Nil(t, r.CostFor("b.com"))

	g, err := r.AddGroup(GroupInput{Name: "G", Sites: []string{"a.com", "b.com"}, Cost: intp(2)})
	require.NoError(t, err)

	r.StampBaseline("b.com", 7)
	c = r.CostFor("a.com")
	require.NotNil(t, c)
	assert.Equal(t, 2, c.Cost)
	assert.Equal(t, 7, c.Baseline, "group owns the baseline for every member")

	grp, _ := r.Group(g.ID)
	assert.Equal(t, 7, grp.CostBaseline)
	assert.Equal(t, 0, r.Settings["b.com"].CostBaseline)
}

func TestRemoveSiteDropsEmptyGroup(t *testing.T) {
	r := New([]string{"a.com", "b.com"}, nil, nil)
	_, err := r.UpdateSiteSettings("a.com", SettingsPatch{Cost: intp(1)})
	require.NoError(t, err)
	g, err := r.AddGroup(GroupInput{Name: "G", Sites: []string{"a.com"}})
	require.NoError(t, err)

	removed, ok := r.RemoveSite("a.com")
	assert.True(t, ok)
	assert.Equal(t, g.ID, removed)
	assert.Empty(t, r.Groups)
	assert.Equal(t, []string{"b.com"}, r.Sites)
	_, has := r.Settings["a.com"]
	assert.False(t, has)

	_, ok = r.RemoveSite("a.com")
	assert.False(t, ok)
}

func TestRemoveGroupReleasesSites(t *testing.T) {
	r := New(nil, nil, nil)
	g, err := r.AddGroup(GroupInput{Name: "G", Sites: []string{"a.com", "b.com"}})
	require.NoError(t, err)

	_, err = r.RemoveGroup(g.ID)
	require.NoError(t, err)
	_, grouped := r.GroupOf("a.com")
	assert.False(t, grouped)
	assert.True(t, r.IsBlocked("a.com"))

	_, err = r.RemoveGroup(g.ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestStampLocked(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := New([]string{"a.com", "b.com"}, nil, nil)
	g, err := r.AddGroup(GroupInput{Name: "G", Sites: []string{"b.com"}})
	require.NoError(t, err)

	r.StampLocked("a.com", at)
	r.StampLocked(model.GroupKey(g.ID), at)
	r.StampLocked("unknown.com", at)

	assert.Equal(t, at, *r.LastLocked("a.com"))
	assert.Equal(t, at, *r.LastLocked("b.com"))
	_, has := r.Settings["unknown.com"]
	assert.False(t, has)
}

func TestUpdateSiteSettingsRequiresBlockedSite(t *testing.T) {
	r := New(nil, nil, nil)
	_, err := r.UpdateSiteSettings("a.com", SettingsPatch{Cost: intp(2)})
	assert.ErrorIs(t, err, ErrUnknownSite)

	r.Sites = []string{"a.com"}
	s, err := r.UpdateSiteSettings("a.com", SettingsPatch{Cost: intp(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, *s.Cost)

	s, err = r.UpdateSiteSettings("a.com", SettingsPatch{ClearCost: true})
	require.NoError(t, err)
	assert.Nil(t, s.Cost)
}
