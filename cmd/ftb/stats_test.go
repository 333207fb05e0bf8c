package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/cuemby/ftb/pkg/api"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintStats(t *testing.T) {
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	resp := &api.StatsResponse{
		Stats: types.Stats{
			Clients:       1,
			Subscriptions: 2,
			Declarations:  1,
			EventSpaces:   1,
			Sequences:     map[string]uint64{"FTB.DEMO": 42, "FTB.ALPHA": 7},
		},
		Clients: []types.Client{{
			ID:                "c1",
			ClientName:        "watchdog",
			EventSpace:        "FTB.DEMO",
			SubscriptionStyle: types.SubscriptionPolling,
			Hostname:          "node01",
			PID:               4242,
			LastSeen:          now.Add(-3 * time.Second),
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, printStats(&buf, resp, now))
	out := buf.String()

	assert.Contains(t, out, "Subscriptions:  2")
	assert.Contains(t, out, "FTB.DEMO")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "3s")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("FTB.ALPHA")), bytes.Index(buf.Bytes(), []byte("FTB.DEMO")))
}

func TestPrintStatsWithoutTables(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStats(&buf, &api.StatsResponse{}, time.Now()))
	assert.Contains(t, buf.String(), "Clients:        0")
	assert.NotContains(t, buf.String(), "SEQNUM")
}
