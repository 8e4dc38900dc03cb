package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/procmon"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/timer"
)

func TestLegacyAdapter_SilentKillMapsToProcessDead(t *testing.T) {
	vt := timer.NewVirtual(time.Unix(0, 0))
	mon, pm := newTestMonitor(vt)
	pm.Set(1, procmon.Usage{})

	adapter := NewLegacyAdapter(mon)
	var legacyEvents []LegacyEvent
	adapter.Subscribe(func(e LegacyEvent) { legacyEvents = append(legacyEvents, e) })

	cfg := DefaultConfig()
	cfg.TimeoutMs = 0
	mon.StartMonitoring("task-1", 1, &fakeChild{}, cfg)
	mon.FeedStdout("task-1", "starting\n")

	vt.Advance(150 * time.Second)

	var dead *LegacyEvent
	for i := range legacyEvents {
		if legacyEvents[i].Kind == LegacyProcessDead {
			dead = &legacyEvents[i]
		}
	}
	if assert.NotNil(t, dead) {
		assert.Equal(t, "task-1", dead.TaskID)
		assert.Equal(t, "silent", dead.Reason)
	}
}

func TestLegacyAdapter_HighResourceAndSlowWarnings(t *testing.T) {
	vt := timer.NewVirtual(time.Unix(0, 0))
	mon, pm := newTestMonitor(vt)
	pm.Set(1, procmon.Usage{CPUPercent: 99})

	adapter := NewLegacyAdapter(mon)
	var kinds []LegacyEventKind
	adapter.Subscribe(func(e LegacyEvent) { kinds = append(kinds, e.Kind) })

	cfg := DefaultConfig()
	cfg.TimeoutMs = 0
	mon.StartMonitoring("task-1", 1, &fakeChild{}, cfg)

	vt.Advance(cfgIntervalDuration(cfg))

	assert.Contains(t, kinds, LegacyProcessHighResource)
	assert.Contains(t, kinds, LegacyProcessSlow)
}

func TestLegacyAdapter_ProgressPassesThrough(t *testing.T) {
	vt := timer.NewVirtual(time.Unix(0, 0))
	mon, pm := newTestMonitor(vt)
	pm.Set(1, procmon.Usage{})

	adapter := NewLegacyAdapter(mon)
	var progressed bool
	adapter.Subscribe(func(e LegacyEvent) {
		if e.Kind == LegacyProcessProgress {
			progressed = true
		}
	})

	mon.StartMonitoring("task-1", 1, &fakeChild{}, DefaultConfig())
	mon.FeedStdout("task-1", "50% done\n")

	assert.True(t, progressed)
}
