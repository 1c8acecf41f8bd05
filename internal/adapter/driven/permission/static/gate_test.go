package static

import (
	"context"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	g, err := Parse(" microphone , camera,")
	require.NoError(t, err)

	grants, err := g.Check(context.Background(), domain.RequiredCapabilities(domain.KindVideo))
	require.NoError(t, err)
	assert.True(t, grants.AllGranted(domain.RequiredCapabilities(domain.KindVideo)))

	_, err = Parse("microphone,telepathy")
	assert.Error(t, err)
}

func TestPartialGrant(t *testing.T) {
	g := New(domain.CapabilityMicrophone)
	required := domain.RequiredCapabilities(domain.KindVideo)

	grants, err := g.Check(context.Background(), required)
	require.NoError(t, err)
	assert.False(t, grants.AllGranted(required))
	assert.Equal(t, []domain.Capability{domain.CapabilityCamera}, grants.Denied(required))
}

func TestEmptyGrantsNothing(t *testing.T) {
	g, err := Parse("")
	require.NoError(t, err)

	grants, err := g.Check(context.Background(), []domain.Capability{domain.CapabilityMicrophone})
	require.NoError(t, err)
	assert.False(t, grants[domain.CapabilityMicrophone])
}
