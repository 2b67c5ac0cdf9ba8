package tools

import (
	"encoding/json"
	"time"

	"github.com/wardenhq/warden/internal/pool"
	"github.com/wardenhq/warden/pkg/netevent"
)

type agentListEntry struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Task    string `json:"task"`
	UptimeS int64  `json:"uptime_s"`
}

func marshalAgentList(snaps []pool.Snapshot) string {
	out := make([]agentListEntry, 0, len(snaps))
	for _, s := range snaps {
		end := time.Now()
		if !s.EndedAt.IsZero() {
			end = s.EndedAt
		}
		out = append(out, agentListEntry{
			ID:      s.ID,
			Status:  string(s.Status),
			Task:    s.Task,
			UptimeS: int64(end.Sub(s.StartedAt).Seconds()),
		})
	}
	b, _ := json.Marshal(out)
	return string(b)
}

type agentStatusPayload struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PID        int    `json:"pid,omitempty"`
	StdoutTail string `json:"stdout_tail"`
	StderrTail string `json:"stderr_tail"`
	Result     string `json:"result,omitempty"`
}

func marshalAgentSnapshot(s pool.Snapshot) string {
	b, _ := json.Marshal(agentStatusPayload{
		ID:         s.ID,
		Status:     string(s.Status),
		PID:        s.PID,
		StdoutTail: s.StdoutTail,
		StderrTail: s.StderrTail,
		Result:     s.Result,
	})
	return string(b)
}

type lockPayload struct {
	Path       string    `json:"path"`
	HolderID   string    `json:"holder_id"`
	Mode       string    `json:"mode"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func marshalLocks(locks []pool.FileLock) string {
	out := make([]lockPayload, 0, len(locks))
	for _, l := range locks {
		out = append(out, lockPayload{Path: l.Path, HolderID: l.HolderID, Mode: string(l.Mode), AcquiredAt: l.AcquiredAt})
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func marshalNetEvents(events []netevent.Event) string {
	b, _ := json.Marshal(events)
	return string(b)
}

type addrCount struct {
	Addr string `json:"addr"`
	N    int    `json:"n"`
}

type netmonSummary struct {
	TotalConnections int         `json:"total_connections"`
	UniqueAddrs      int         `json:"unique_addrs"`
	BytesSent        int         `json:"bytes_sent"`
	BytesRecv        int         `json:"bytes_recv"`
	Top              []addrCount `json:"top"`
}

func summarizeNetmon(events []netevent.Event) string {
	counts := map[string]int{}
	s := netmonSummary{}
	for _, e := range events {
		switch e.Event {
		case netevent.Connect:
			s.TotalConnections++
			if e.Addr != "" {
				counts[e.Addr]++
			}
		case netevent.Send, netevent.SendTo:
			if e.Bytes != nil {
				s.BytesSent += *e.Bytes
			}
		case netevent.Recv, netevent.RecvFrom:
			if e.Bytes != nil {
				s.BytesRecv += *e.Bytes
			}
		}
	}
	s.UniqueAddrs = len(counts)

	top := make([]addrCount, 0, len(counts))
	for addr, n := range counts {
		top = append(top, addrCount{Addr: addr, N: n})
	}
	// simple insertion sort by count descending; the list is small (distinct addrs per session)
	for i := 1; i < len(top); i++ {
		for j := i; j > 0 && top[j].N > top[j-1].N; j-- {
			top[j], top[j-1] = top[j-1], top[j]
		}
	}
	if len(top) > 10 {
		top = top[:10]
	}
	s.Top = top

	b, _ := json.Marshal(s)
	return string(b)
}
