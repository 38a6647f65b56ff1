package canonical

import "strconv"

// Activity is the current-activity view: the active sessions and their
// count. StreamCount is a string for compatibility with consumers of the
// legacy format; the per-decision counts are plain integers.
type Activity struct {
	StreamCount             string    `json:"stream_count"`
	StreamCountDirectPlay   int       `json:"stream_count_direct_play"`
	StreamCountDirectStream int       `json:"stream_count_direct_stream"`
	StreamCountTranscode    int       `json:"stream_count_transcode"`
	Sessions                []Session `json:"sessions"`
}

// EmptyActivity is the well-formed result used when nothing is playing or
// the server could not be reached.
func EmptyActivity() Activity {
	return Activity{
		StreamCount: "0",
		Sessions:    []Session{},
	}
}

// NewActivity builds the view over already-normalized sessions.
func NewActivity(sessions []Session) Activity {
	a := EmptyActivity()
	if len(sessions) == 0 {
		return a
	}

	a.Sessions = sessions
	a.StreamCount = strconv.Itoa(len(sessions))
	for _, s := range sessions {
		switch s.TranscodeDecision {
		case DecisionDirectPlay:
			a.StreamCountDirectPlay++
		case DecisionCopy:
			a.StreamCountDirectStream++
		default:
			a.StreamCountTranscode++
		}
	}

	return a
}

// Count returns the number of sessions.
func (a Activity) Count() int {
	return len(a.Sessions)
}
