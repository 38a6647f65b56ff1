// Package canonical converts raw Emby records into the provider-agnostic
// activity schema consumed by history and notification code. Every function
// here is pure: no I/O, no clock, no shared state. Malformed or missing
// input never fails; documented defaults are substituted instead.
package canonical

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/opd-ai/go-emby-bridge/internal/emby"
)

// ticksPerMillisecond converts Emby ticks (10,000,000 per second).
const ticksPerMillisecond = 10000

// Session is one active stream in canonical form. Every key is always
// serialized.
type Session struct {
	SessionKey         string `json:"session_key"`
	SessionID          string `json:"session_id"`
	TranscodeKey       string `json:"transcode_key"`
	RatingKey          string `json:"rating_key"`
	RatingKeyWebsocket string `json:"rating_key_websocket"`
	GUID               string `json:"guid"`

	UserID       string `json:"user_id"`
	User         string `json:"user"`
	FriendlyName string `json:"friendly_name"`
	UserThumb    string `json:"user_thumb"`

	Player    string `json:"player"`
	Product   string `json:"product"`
	Device    string `json:"device"`
	Platform  string `json:"platform"`
	MachineID string `json:"machine_id"`
	IPAddress string `json:"ip_address"`

	MediaType             string `json:"media_type"`
	SectionID             string `json:"section_id"`
	Title                 string `json:"title"`
	ParentTitle           string `json:"parent_title"`
	GrandparentTitle      string `json:"grandparent_title"`
	OriginalTitle         string `json:"original_title"`
	FullTitle             string `json:"full_title"`
	Year                  int    `json:"year"`
	OriginallyAvailableAt string `json:"originally_available_at"`
	AddedAt               int64  `json:"added_at"`
	ParentRatingKey       string `json:"parent_rating_key"`
	GrandparentRatingKey  string `json:"grandparent_rating_key"`
	MediaIndex            int    `json:"media_index"`
	ParentMediaIndex      int    `json:"parent_media_index"`
	Live                  int    `json:"live"`

	State           string `json:"state"`
	ViewOffset      int64  `json:"view_offset"`
	Duration        int64  `json:"duration"`
	ProgressPercent int    `json:"progress_percent"`

	TranscodeDecision string `json:"transcode_decision"`
	VideoDecision     string `json:"video_decision"`
	AudioDecision     string `json:"audio_decision"`
	QualityProfile    string `json:"quality_profile"`

	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Container       string `json:"container"`
	Bitrate         int    `json:"bitrate"`
	VideoCodec      string `json:"video_codec"`
	VideoResolution string `json:"video_resolution"`
	AspectRatio     string `json:"aspect_ratio"`

	AudioCodec    string `json:"audio_codec"`
	AudioChannels int    `json:"audio_channels"`
	AudioLanguage string `json:"audio_language"`

	SubtitleCodec    string `json:"subtitle_codec"`
	SubtitleForced   int    `json:"subtitle_forced"`
	SubtitleLanguage string `json:"subtitle_language"`
	Subtitles        int    `json:"subtitles"`

	RawStreamInfo string `json:"raw_stream_info"`
}

// Streams holds the elected stream of each kind. A kind with no match is
// the zero value.
type Streams struct {
	Video    emby.RawMediaStream
	Audio    emby.RawMediaStream
	Subtitle emby.RawMediaStream
}

// NewSession normalizes one raw session. It returns false when raw is nil
// or has no now-playing item; no canonical session exists for an idle
// client.
func NewSession(raw *emby.RawSession) (Session, bool) {
	if !raw.IsPlaying() {
		return Session{}, false
	}

	playState := raw.GetPlayState()
	item := raw.GetNowPlayingItem()
	streams := SelectStreams(item.MediaStreams, playState.SubtitleIndex())
	mediaType := MediaType(item.Type)

	s := Session{
		SessionKey:         raw.ID,
		SessionID:          raw.ID,
		RatingKey:          item.ID,
		RatingKeyWebsocket: item.ID,
		GUID:               item.ID,

		UserID:       raw.UserID,
		User:         raw.UserName,
		FriendlyName: raw.UserName,
		UserThumb:    userThumb(raw.UserID, raw.UserPrimaryImageTag),

		Player:    raw.Client,
		Product:   raw.Client,
		Device:    raw.DeviceName,
		Platform:  Platform(raw.Client),
		MachineID: raw.DeviceID,
		IPAddress: HostFromEndpoint(raw.RemoteEndPoint),

		MediaType:             mediaType,
		SectionID:             item.ParentID,
		Title:                 item.Name,
		ParentTitle:           firstNonEmpty(item.SeasonName, item.Album, item.SeriesName),
		GrandparentTitle:      firstNonEmpty(item.SeriesName, item.AlbumArtist),
		OriginalTitle:         item.OriginalTitle,
		FullTitle:             FullTitle(item),
		Year:                  item.Year(),
		OriginallyAvailableAt: datePart(item.PremiereDate),
		AddedAt:               unixSeconds(item.DateCreated),
		ParentRatingKey:       firstNonEmpty(item.SeasonID, item.AlbumID),
		GrandparentRatingKey:  firstNonEmpty(item.SeriesID, item.AlbumArtistID()),
		MediaIndex:            item.Episode(),
		ParentMediaIndex:      item.Season(),
		Live:                  boolToInt(mediaType == MediaLive),

		State:      StatePlaying,
		ViewOffset: TicksToMillis(playState.PositionTicks),
		Duration:   TicksToMillis(item.RunTimeTicks),

		TranscodeDecision: TranscodeDecision(playState.PlayMethod),
		VideoDecision:     StreamDecision(playState.PlayMethod),
		AudioDecision:     StreamDecision(playState.PlayMethod),

		Width:       streams.Video.Width,
		Height:      streams.Video.Height,
		Container:   item.Container,
		Bitrate:     item.Bitrate,
		VideoCodec:  streams.Video.Codec,
		AspectRatio: streams.Video.AspectRatio,

		AudioCodec:    streams.Audio.Codec,
		AudioChannels: streams.Audio.Channels,
		AudioLanguage: streams.Audio.Language,

		SubtitleCodec:    streams.Subtitle.Codec,
		SubtitleForced:   boolToInt(streams.Subtitle.IsForced),
		SubtitleLanguage: streams.Subtitle.Language,
		Subtitles:        boolToInt(playState.SubtitleIndex() >= 0),

		RawStreamInfo: rawStreamInfo(raw),
	}

	if playState.IsPaused {
		s.State = StatePaused
	}
	if streams.Video.Height > 0 {
		s.VideoResolution = fmt.Sprintf("%dp", streams.Video.Height)
	}
	if s.Duration > 0 {
		s.ProgressPercent = int(min(s.ViewOffset*100/s.Duration, 100))
	}

	return s, true
}

// SelectStreams elects the video, audio and subtitle stream of an item:
// the first Video stream, the first Audio stream flagged default, and the
// Subtitle stream whose Index equals subtitleIndex. A negative
// subtitleIndex selects no subtitle.
func SelectStreams(streams []emby.RawMediaStream, subtitleIndex int) Streams {
	var out Streams
	var haveVideo, haveAudio, haveSubtitle bool

	for _, s := range streams {
		switch s.Type {
		case "Video":
			if !haveVideo {
				out.Video, haveVideo = s, true
			}
		case "Audio":
			if !haveAudio && s.IsDefault {
				out.Audio, haveAudio = s, true
			}
		case "Subtitle":
			if !haveSubtitle && subtitleIndex >= 0 && s.Index == subtitleIndex {
				out.Subtitle, haveSubtitle = s, true
			}
		}
	}

	return out
}

// TicksToMillis converts Emby ticks to milliseconds. Zero and negative
// inputs yield 0.
func TicksToMillis(ticks int64) int64 {
	if ticks <= 0 {
		return 0
	}
	return ticks / ticksPerMillisecond
}

// HostFromEndpoint returns the host part of a remote endpoint: the text
// before the first ':' ("10.0.0.5:51234" -> "10.0.0.5"), or the bracketed
// address of an IPv6 endpoint ("[::1]:8096" -> "::1").
func HostFromEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "[") {
		if end := strings.Index(endpoint, "]"); end > 0 {
			return endpoint[1:end]
		}
	}
	host, _, _ := strings.Cut(endpoint, ":")
	return host
}

// Platform is the client name lower-cased with spaces removed.
func Platform(client string) string {
	return strings.ToLower(strings.ReplaceAll(client, " ", ""))
}

func userThumb(userID, imageTag string) string {
	if userID == "" || imageTag == "" {
		return ""
	}
	return "/emby/Users/" + userID + "/Images/Primary"
}

// rawStreamInfo is the exact payload received, or the re-encoded struct
// for sessions built in code.
func rawStreamInfo(raw *emby.RawSession) string {
	if len(raw.Raw) > 0 {
		return string(raw.Raw)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(data)
}

// datePart keeps the YYYY-MM-DD prefix of an Emby timestamp.
func datePart(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}

func unixSeconds(ts string) int64 {
	if ts == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return 0
	}
	return t.Unix()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
