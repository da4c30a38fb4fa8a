package pipeline

// State is a stage of a run.
//
//	Init → FeedAcquired → CacheLoaded → Deduplicated → DryRunRecording | Publishing → CachePersisted → Done
//
// Failed is reachable from every state.
type State int

const (
	StateInit State = iota
	StateFeedAcquired
	StateCacheLoaded
	StateDeduplicated
	StateDryRunRecording
	StatePublishing
	StateCachePersisted
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:            "init",
	StateFeedAcquired:    "feed_acquired",
	StateCacheLoaded:     "cache_loaded",
	StateDeduplicated:    "deduplicated",
	StateDryRunRecording: "dry_run_recording",
	StatePublishing:      "publishing",
	StateCachePersisted:  "cache_persisted",
	StateDone:            "done",
	StateFailed:          "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
