package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, store.Record(ctx, now, Event{
		Kind: KindPublish, Repo: "releases", Path: "g/a/1.0/a-1.0.jar",
		Username: "deployer", Status: "created",
	}))
	require.NoError(t, store.Record(ctx, now.Add(time.Minute), Event{
		Kind: KindReload, Repo: "*", Status: "success", Detail: "sighup",
	}))

	events, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, KindReload, events[0].Kind, "most recent event first")
	require.Equal(t, KindPublish, events[1].Kind)
}
