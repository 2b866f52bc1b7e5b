package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide call counter.
var Stats = &stats{}

type stats struct {
	CallsPlaced    atomic.Int64 // outgoing sessions created since process start
	CallsReceived  atomic.Int64 // inbound offers surfaced by the listener
	CallsConnected atomic.Int64 // sessions that reached the connected state
	CandidatesSent atomic.Int64 // local ICE candidates handed to signaling
	Reconnects     atomic.Int64 // listener reconnect attempts
}

func (s *stats) AddPlaced()    { s.CallsPlaced.Add(1) }
func (s *stats) AddReceived()  { s.CallsReceived.Add(1) }
func (s *stats) AddConnected() { s.CallsConnected.Add(1) }
func (s *stats) AddCandidate() { s.CandidatesSent.Add(1) }
func (s *stats) AddReconnect() { s.Reconnects.Add(1) }

// StartStatsReporter launches a goroutine that logs call statistics
// every 30 seconds while anything changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		var prev [5]int64
		for {
			select {
			case <-ticker.C:
				cur := [5]int64{
					Stats.CallsPlaced.Load(),
					Stats.CallsReceived.Load(),
					Stats.CallsConnected.Load(),
					Stats.CandidatesSent.Load(),
					Stats.Reconnects.Load(),
				}
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur))
					prev = cur
				}

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the current counters for display.
func formatStats(c [5]int64) string {
	return fmt.Sprintf("Calls: %d placed | %d received | %d connected | ICE sent: %d | reconnects: %d",
		c[0], c[1], c[2], c[3], c[4])
}
