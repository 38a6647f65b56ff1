package canonical

import "strings"

// Media types.
const (
	MediaMovie   = "movie"
	MediaEpisode = "episode"
	MediaTrack   = "track"
	MediaPhoto   = "photo"
	MediaLive    = "live"
	MediaClip    = "clip"
)

// Transcode decisions.
const (
	DecisionDirectPlay = "direct play"
	DecisionCopy       = "copy"
	DecisionTranscode  = "transcode"
)

// Section types.
const (
	SectionMovie  = "movie"
	SectionShow   = "show"
	SectionArtist = "artist"
	SectionPhoto  = "photo"
	SectionMixed  = "mixed"
)

// Playback states.
const (
	StatePlaying = "playing"
	StatePaused  = "paused"
)

var mediaTypes = map[string]string{
	"episode": MediaEpisode,
	"movie":   MediaMovie,
	"track":   MediaTrack,
	"photo":   MediaPhoto,
	"channel": MediaLive,
	"program": MediaLive,
}

var sectionTypes = map[string]string{
	"movies":  SectionMovie,
	"tvshows": SectionShow,
	"music":   SectionArtist,
	"photos":  SectionPhoto,
	"mixed":   SectionMixed,
}

// MediaType classifies an Emby item type. Unknown types are clips.
func MediaType(itemType string) string {
	if t, ok := mediaTypes[strings.ToLower(itemType)]; ok {
		return t
	}
	return MediaClip
}

// TranscodeDecision maps a play method to the three-way decision. Anything
// other than DirectPlay or DirectStream, including an empty value, is a
// transcode.
func TranscodeDecision(playMethod string) string {
	switch playMethod {
	case "DirectPlay":
		return DecisionDirectPlay
	case "DirectStream":
		return DecisionCopy
	default:
		return DecisionTranscode
	}
}

// StreamDecision is the per-stream video/audio decision. It only tells
// DirectPlay apart from everything else, so a transcoding stream reports
// "copy" here while TranscodeDecision reports "transcode".
func StreamDecision(playMethod string) string {
	if playMethod == "DirectPlay" {
		return DecisionDirectPlay
	}
	return DecisionCopy
}

// SectionType classifies a library collection type, case-insensitively.
// Absent or unknown types are mixed.
func SectionType(collectionType string) string {
	if t, ok := sectionTypes[strings.ToLower(collectionType)]; ok {
		return t
	}
	return SectionMixed
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
