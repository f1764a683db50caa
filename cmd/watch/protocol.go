package watch

import (
	"sync"
	"time"

	"github.com/LegacyCodeHQ/mpptrack/build"
)

const (
	routeIndex  = "/"
	routeReport = "/report"
	routeUnits  = "/units.dot"
	routeStatus = "/status"
	routeEvents = "/events"
)

const sseEventCycles = "cycles"

// maxCycleHistory bounds the cycles kept for new subscribers.
const maxCycleHistory = 20

// cycleSnapshot is the atom in the watch protocol timeline: one finished
// build cycle and the unit graph colored by its states.
type cycleSnapshot struct {
	ID        int64         `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Succeeded bool          `json:"succeeded"`
	Report    *build.Report `json:"report"`
	DOT       string        `json:"dot"`
}

// cycleStreamPayload is the wire payload for SSE "cycles" events. Cycles
// are ordered oldest first.
type cycleStreamPayload struct {
	Cycles   []cycleSnapshot `json:"cycles"`
	LatestID int64           `json:"latestId"`
}

// timeline keeps the most recent cycles.
type timeline struct {
	mu     sync.Mutex
	nextID int64
	cycles []cycleSnapshot
}

func (tl *timeline) add(report *build.Report, dot string, now time.Time) cycleStreamPayload {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.nextID++
	tl.cycles = append(tl.cycles, cycleSnapshot{
		ID:        tl.nextID,
		Timestamp: now,
		Succeeded: report.Succeeded(),
		Report:    report,
		DOT:       dot,
	})
	if len(tl.cycles) > maxCycleHistory {
		tl.cycles = tl.cycles[len(tl.cycles)-maxCycleHistory:]
	}

	return cycleStreamPayload{
		Cycles:   append([]cycleSnapshot(nil), tl.cycles...),
		LatestID: tl.nextID,
	}
}

func (tl *timeline) latest() (cycleSnapshot, bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if len(tl.cycles) == 0 {
		return cycleSnapshot{}, false
	}
	return tl.cycles[len(tl.cycles)-1], true
}
