package cli

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/jobs"
)

func TestTriggerRejectsUnknownJob(t *testing.T) {
	mr := miniredis.RunT(t)
	cli, err := NewJobsCLI(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	_, err = cli.Trigger(context.Background(), "mail:send")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported job")
}

func TestTriggerCloseEnqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	cli, err := NewJobsCLI(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	info, err := cli.TriggerClose(context.Background(), 1, 7, false)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskCloseRun, info.Type)

	stats, err := cli.InspectQueue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Pending)
}
