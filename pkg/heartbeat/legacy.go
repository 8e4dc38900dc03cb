package heartbeat

// LegacyEventKind enumerates the older event vocabulary a previous
// orchestrator surface expects, per spec.md §4.5.
type LegacyEventKind string

const (
	LegacyProcessDead         LegacyEventKind = "process:dead"
	LegacyProcessSlow         LegacyEventKind = "process:slow"
	LegacyProcessHighResource LegacyEventKind = "process:high-resource"
	LegacyProcessProgress     LegacyEventKind = "process:progress"
)

// LegacyEvent is the remapped payload delivered to legacy listeners.
type LegacyEvent struct {
	Kind         LegacyEventKind
	TaskID       string
	Reason       string
	IsEarlyPhase bool
}

// LegacyListener receives remapped legacy events.
type LegacyListener func(LegacyEvent)

// LegacyAdapter deterministically maps Monitor events onto the legacy
// vocabulary, per spec.md §4.5:
//
//	unhealthy ∧ shouldTerminate        → process:dead
//	warning containing "High CPU/memory" → process:high-resource
//	warning containing "Low output rate" → process:slow (carries IsEarlyPhase)
//	progress                            → process:progress
type LegacyAdapter struct {
	listeners []LegacyListener
}

// NewLegacyAdapter subscribes to monitor and returns the adapter so
// callers can further Subscribe to the legacy vocabulary.
func NewLegacyAdapter(monitor *Monitor) *LegacyAdapter {
	a := &LegacyAdapter{}
	monitor.Subscribe(a.handle)
	return a
}

// Subscribe registers a legacy-vocabulary listener.
func (a *LegacyAdapter) Subscribe(l LegacyListener) {
	a.listeners = append(a.listeners, l)
}

func (a *LegacyAdapter) emit(ev LegacyEvent) {
	for _, l := range a.listeners {
		l(ev)
	}
}

func (a *LegacyAdapter) handle(ev Event) {
	switch ev.Kind {
	case EventProgress:
		a.emit(LegacyEvent{Kind: LegacyProcessProgress, TaskID: ev.TaskID})

	case EventUnhealthy:
		if ev.Verdict != nil && ev.Verdict.ShouldTerminate {
			a.emit(LegacyEvent{Kind: LegacyProcessDead, TaskID: ev.TaskID, Reason: ev.Verdict.Reason})
		}

	case EventWarning:
		if ev.Verdict == nil {
			return
		}
		for _, w := range ev.Verdict.Warnings {
			switch w {
			case "High CPU/memory":
				a.emit(LegacyEvent{Kind: LegacyProcessHighResource, TaskID: ev.TaskID})
			case "Low output rate", "Low output rate (early phase)":
				a.emit(LegacyEvent{Kind: LegacyProcessSlow, TaskID: ev.TaskID, IsEarlyPhase: ev.Verdict.IsEarlyPhase})
			}
		}
	}
}
