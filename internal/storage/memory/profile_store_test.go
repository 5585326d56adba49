package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

func TestProfileStore(t *testing.T) {
	t.Parallel()

	store := NewProfileStore()
	ctx := context.Background()

	_, err := store.GetProfile(ctx, "p1")
	require.ErrorIs(t, err, discovery.ErrProfileNotFound)
	require.Error(t, store.PutProfile(ctx, discovery.Profile{}))

	require.NoError(t, store.PutProfile(ctx, discovery.Profile{Ref: "p1", TechnicalSkills: []string{"Go"}}))
	require.NoError(t, store.PutProfile(ctx, discovery.Profile{Ref: "p1", TechnicalSkills: []string{"Go", "SQL"}}))
	got, err := store.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, []string{"Go", "SQL"}, got.TechnicalSkills)
}
