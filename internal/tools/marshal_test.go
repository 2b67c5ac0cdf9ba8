package tools

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/pool"
	"github.com/wardenhq/warden/pkg/netevent"
)

func intPtr(n int) *int { return &n }

func TestMarshalAgentListIncludesUptime(t *testing.T) {
	started := time.Now().Add(-5 * time.Second)
	out := marshalAgentList([]pool.Snapshot{
		{ID: "a1", Status: pool.Running, Task: "write tests", StartedAt: started},
	})

	var decoded []agentListEntry
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 1)
	require.Equal(t, "a1", decoded[0].ID)
	require.GreaterOrEqual(t, decoded[0].UptimeS, int64(5))
}

func TestSummarizeNetmonAggregatesByAddr(t *testing.T) {
	events := []netevent.Event{
		{Event: netevent.Connect, Addr: "1.2.3.4:443"},
		{Event: netevent.Connect, Addr: "1.2.3.4:443"},
		{Event: netevent.Send, Addr: "1.2.3.4:443", Bytes: intPtr(100)},
		{Event: netevent.Recv, Addr: "1.2.3.4:443", Bytes: intPtr(50)},
	}

	out := summarizeNetmon(events)
	var decoded netmonSummary
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Equal(t, 2, decoded.TotalConnections)
	require.Equal(t, 1, decoded.UniqueAddrs)
	require.Equal(t, 100, decoded.BytesSent)
	require.Equal(t, 50, decoded.BytesRecv)
	require.Equal(t, "1.2.3.4:443", decoded.Top[0].Addr)
	require.Equal(t, 2, decoded.Top[0].N)
}

func TestSummarizeNetmonCapsTopAtTen(t *testing.T) {
	var events []netevent.Event
	for i := 0; i < 15; i++ {
		events = append(events, netevent.Event{Event: netevent.Connect, Addr: string(rune('a' + i))})
	}
	out := summarizeNetmon(events)
	var decoded netmonSummary
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Top, 10)
	require.Equal(t, 15, decoded.UniqueAddrs)
}
