package roles

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/orgimpact/pkg/schema"
)

// fakeSource is a map-backed Source that records lookups.
type fakeSource struct {
	byCode  map[string]schema.Role
	byTitle map[string]schema.Role
	err     error
	calls   []string
}

func (f *fakeSource) RoleByCode(_ context.Context, code string) (*schema.Role, error) {
	f.calls = append(f.calls, "code:"+code)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.byCode[code]; ok {
		return &r, nil
	}
	return nil, nil
}

func (f *fakeSource) RolesByCodePrefix(_ context.Context, prefix string) ([]*schema.Role, error) {
	f.calls = append(f.calls, "prefix:"+prefix)
	if f.err != nil {
		return nil, f.err
	}
	var out []*schema.Role
	for code, r := range f.byCode {
		if strings.HasPrefix(code, prefix) {
			out = append(out, &r)
		}
	}
	return out, nil
}

func (f *fakeSource) RoleByNormalizedTitle(_ context.Context, title string) (*schema.Role, error) {
	f.calls = append(f.calls, "title:"+title)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.byTitle[title]; ok {
		return &r, nil
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "no such title")
}

func newFakeSource() *fakeSource {
	ceo := schema.Role{OnetCode: "11-1011.00", Title: "Chief Executives", NormalizedTitle: "chief executives"}
	cso := schema.Role{OnetCode: "11-1011.03", Title: "chief sustainability officers", NormalizedTitle: "chief sustainability officers"}
	dev := schema.Role{OnetCode: "15-1252.00", Title: "Software Developers", NormalizedTitle: "software developers"}
	return &fakeSource{
		byCode: map[string]schema.Role{ceo.OnetCode: ceo, cso.OnetCode: cso, dev.OnetCode: dev},
		byTitle: map[string]schema.Role{
			"chief executives":    ceo,
			"software developers": dev,
			"ml eng (platform)":   dev,
		},
	}
}

func TestResolve_ExactCode(t *testing.T) {
	src := newFakeSource()
	role, ok := NewResolver(src, nil).Resolve(context.Background(), " 15-1252.00 ")
	require.True(t, ok)
	assert.Equal(t, "Software Developers", role.Title)
	assert.Equal(t, []string{"code:15-1252.00"}, src.calls)
}

func TestResolve_UnknownExactCodeIsMiss(t *testing.T) {
	src := newFakeSource()
	_, ok := NewResolver(src, nil).Resolve(context.Background(), "99-9999.99")
	assert.False(t, ok)
	assert.Equal(t, []string{"code:99-9999.99"}, src.calls)
}

func TestResolve_PrefixPicksFirstByTitle(t *testing.T) {
	role, ok := NewResolver(newFakeSource(), nil).Resolve(context.Background(), "11-1011")
	require.True(t, ok)
	assert.Equal(t, "11-1011.00", role.OnetCode, "\"Chief Executives\" sorts before \"chief sustainability officers\"")
}

func TestResolve_NormalizedTitle(t *testing.T) {
	src := newFakeSource()
	role, ok := NewResolver(src, nil).Resolve(context.Background(), "Software   Developers")
	require.True(t, ok)
	assert.Equal(t, "15-1252.00", role.OnetCode)
	assert.Equal(t, []string{"title:software developers"}, src.calls)
}

func TestResolve_RetriesLowerCasedIdentifier(t *testing.T) {
	src := newFakeSource()
	role, ok := NewResolver(src, nil).Resolve(context.Background(), "ML Eng (Platform)")
	require.True(t, ok)
	assert.Equal(t, "15-1252.00", role.OnetCode)
	assert.Equal(t, []string{"title:ml eng platform", "title:ml eng (platform)"}, src.calls)
}

func TestResolve_CanonicalizedCode(t *testing.T) {
	src := newFakeSource()
	role, ok := NewResolver(src, nil).Resolve(context.Background(), "15 – 1252.00")
	require.True(t, ok)
	assert.Equal(t, "Software Developers", role.Title)
	assert.Equal(t, "code:15-1252.00", src.calls[len(src.calls)-1])

	role, ok = NewResolver(src, nil).Resolve(context.Background(), "11‑1011")
	require.True(t, ok)
	assert.Equal(t, "11-1011.00", role.OnetCode)
}

func TestResolve_Misses(t *testing.T) {
	r := NewResolver(newFakeSource(), nil)
	for _, id := range []string{"", "   ", "Astronaut", "15-12"} {
		_, ok := r.Resolve(context.Background(), id)
		assert.False(t, ok, "identifier %q", id)
	}
}

func TestResolve_SourceErrorIsMiss(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("connection reset")
	_, ok := NewResolver(src, nil).Resolve(context.Background(), "11-1011.00")
	assert.False(t, ok)
}

// --- Catalog ---

func TestBuiltinCatalog(t *testing.T) {
	c, err := BuiltinCatalog()
	require.NoError(t, err)
	assert.Greater(t, c.Len(), 20)

	ctx := context.Background()
	ceo, err := c.RoleByCode(ctx, "11-1011.00")
	require.NoError(t, err)
	require.NotNil(t, ceo)
	assert.Equal(t, "chief executives", ceo.NormalizedTitle)
	require.NotNil(t, ceo.TaskMixShares)

	cso, err := c.RoleByCode(ctx, "11-1011.03")
	require.NoError(t, err)
	assert.Equal(t, 6, *cso.TaskMixCounts.Manual, "manual derived on load")

	byPrefix, err := c.RolesByCodePrefix(ctx, "11-1011")
	require.NoError(t, err)
	require.Len(t, byPrefix, 2)
	assert.Equal(t, "Chief Executives", byPrefix[0].Title)

	dev, err := c.RoleByNormalizedTitle(ctx, "Software Developers")
	require.NoError(t, err)
	assert.Equal(t, "15-1252.00", dev.OnetCode)

	missing, err := c.RoleByCode(ctx, "00-0000.00")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCatalog_FirstEntryWinsAndCopies(t *testing.T) {
	c := NewCatalog([]schema.Role{
		{OnetCode: "15-2051.00", Title: "Data Scientists"},
		{OnetCode: "15-2051.00", Title: "Duplicate"},
		{OnetCode: "not-a-code", Title: "Ignored"},
	})
	assert.Equal(t, 1, c.Len())

	r, _ := c.RoleByCode(context.Background(), "15-2051.00")
	r.Title = "mutated"
	again, _ := c.RoleByCode(context.Background(), "15-2051.00")
	assert.Equal(t, "Data Scientists", again.Title)
}

func TestCatalog_ResolverEndToEnd(t *testing.T) {
	c, err := BuiltinCatalog()
	require.NoError(t, err)
	r := NewResolver(c, nil)

	role, ok := r.Resolve(context.Background(), "customer service representatives")
	require.True(t, ok)
	assert.Equal(t, "43-4051.00", role.OnetCode)

	role, ok = r.Resolve(context.Background(), "15-1252")
	require.True(t, ok)
	assert.Equal(t, "Software Developers", role.Title)
}
