package emby

import (
	"reflect"

	"github.com/goccy/go-json"
)

// RawSession is one entry of GET /Sessions. Only the fields the bridge reads
// are declared; Raw keeps the exact payload the server sent.
type RawSession struct {
	ID                  string        `json:"Id"`
	UserID              string        `json:"UserId"`
	UserName            string        `json:"UserName"`
	UserPrimaryImageTag string        `json:"UserPrimaryImageTag,omitempty"`
	Client              string        `json:"Client"`
	ApplicationVersion  string        `json:"ApplicationVersion,omitempty"`
	DeviceID            string        `json:"DeviceId"`
	DeviceName          string        `json:"DeviceName"`
	RemoteEndPoint      string        `json:"RemoteEndPoint"`
	PlayState           *RawPlayState `json:"PlayState,omitempty"`
	NowPlayingItem      *RawItem      `json:"NowPlayingItem,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// RawPlayState carries playback position and delivery method.
type RawPlayState struct {
	PositionTicks       int64  `json:"PositionTicks"`
	IsPaused            bool   `json:"IsPaused"`
	IsMuted             bool   `json:"IsMuted"`
	PlayMethod          string `json:"PlayMethod,omitempty"`
	AudioStreamIndex    *int   `json:"AudioStreamIndex,omitempty"`
	SubtitleStreamIndex *int   `json:"SubtitleStreamIndex,omitempty"`
}

// RawItem is the NowPlayingItem of a session.
type RawItem struct {
	ID                string           `json:"Id"`
	Name              string           `json:"Name"`
	OriginalTitle     string           `json:"OriginalTitle,omitempty"`
	Type              string           `json:"Type"`
	MediaType         string           `json:"MediaType,omitempty"`
	ParentID          string           `json:"ParentId,omitempty"`
	SeriesID          string           `json:"SeriesId,omitempty"`
	SeriesName        string           `json:"SeriesName,omitempty"`
	SeasonID          string           `json:"SeasonId,omitempty"`
	SeasonName        string           `json:"SeasonName,omitempty"`
	AlbumID           string           `json:"AlbumId,omitempty"`
	Album             string           `json:"Album,omitempty"`
	AlbumArtist       string           `json:"AlbumArtist,omitempty"`
	AlbumArtists      []NameIDPair     `json:"AlbumArtists,omitempty"`
	IndexNumber       *int             `json:"IndexNumber,omitempty"`
	ParentIndexNumber *int             `json:"ParentIndexNumber,omitempty"`
	ProductionYear    *int             `json:"ProductionYear,omitempty"`
	PremiereDate      string           `json:"PremiereDate,omitempty"`
	DateCreated       string           `json:"DateCreated,omitempty"`
	RunTimeTicks      int64            `json:"RunTimeTicks,omitempty"`
	Container         string           `json:"Container,omitempty"`
	Bitrate           int              `json:"Bitrate,omitempty"`
	MediaStreams      []RawMediaStream `json:"MediaStreams,omitempty"`
}

// NameIDPair is Emby's reference to another item.
type NameIDPair struct {
	Name string `json:"Name"`
	ID   string `json:"Id"`
}

// RawMediaStream is one video, audio or subtitle track of an item.
type RawMediaStream struct {
	Type        string `json:"Type"`
	Index       int    `json:"Index"`
	Codec       string `json:"Codec,omitempty"`
	Language    string `json:"Language,omitempty"`
	IsDefault   bool   `json:"IsDefault"`
	IsForced    bool   `json:"IsForced"`
	Width       int    `json:"Width,omitempty"`
	Height      int    `json:"Height,omitempty"`
	Channels    int    `json:"Channels,omitempty"`
	BitRate     int    `json:"BitRate,omitempty"`
	AspectRatio string `json:"AspectRatio,omitempty"`
}

// RawUser is one entry of GET /Users/Query.
type RawUser struct {
	ID              string     `json:"Id"`
	Name            string     `json:"Name"`
	Email           string     `json:"Email,omitempty"`
	PrimaryImageTag string     `json:"PrimaryImageTag,omitempty"`
	Policy          *RawPolicy `json:"Policy,omitempty"`
}

// RawPolicy holds the permission flags of a user.
type RawPolicy struct {
	IsAdministrator bool `json:"IsAdministrator"`
	IsDisabled      bool `json:"IsDisabled"`
	IsHidden        bool `json:"IsHidden"`
}

// RawLibrary is one entry of GET /Library/VirtualFolders.
type RawLibrary struct {
	Name           string   `json:"Name"`
	ItemID         string   `json:"ItemId"`
	CollectionType string   `json:"CollectionType,omitempty"`
	Locations      []string `json:"Locations,omitempty"`
}

// ServerInfo is the authenticated GET /System/Info payload.
type ServerInfo struct {
	ID              string `json:"Id"`
	ServerName      string `json:"ServerName"`
	Version         string `json:"Version"`
	OperatingSystem string `json:"OperatingSystem,omitempty"`
}

// PublicServerInfo is the GET /System/Info/Public payload.
type PublicServerInfo struct {
	ID           string `json:"Id"`
	ServerName   string `json:"ServerName"`
	Version      string `json:"Version"`
	ProductName  string `json:"ProductName,omitempty"`
	LocalAddress string `json:"LocalAddress,omitempty"`
}

// Message is the body of POST /Sessions/{id}/Message.
type Message struct {
	Header    string `json:"Header"`
	Text      string `json:"Text"`
	TimeoutMs int    `json:"TimeoutMs"`
}

// GetPlayState returns the session's play state, or an empty one.
func (s *RawSession) GetPlayState() RawPlayState {
	if s == nil || s.PlayState == nil {
		return RawPlayState{}
	}
	return *s.PlayState
}

// GetNowPlayingItem returns the playing item, or an empty one.
func (s *RawSession) GetNowPlayingItem() RawItem {
	if s == nil || s.NowPlayingItem == nil {
		return RawItem{}
	}
	return *s.NowPlayingItem
}

// IsPlaying reports whether the session carries a non-empty now-playing item.
func (s *RawSession) IsPlaying() bool {
	return s != nil && !s.NowPlayingItem.IsZero()
}

// SubtitleIndex returns the active subtitle stream index, -1 when none.
func (p RawPlayState) SubtitleIndex() int {
	if p.SubtitleStreamIndex == nil {
		return -1
	}
	return *p.SubtitleStreamIndex
}

// IsZero reports whether the item is absent or was sent as an empty object.
func (i *RawItem) IsZero() bool {
	return i == nil || reflect.ValueOf(*i).IsZero()
}

// Season returns ParentIndexNumber, 0 when absent.
func (i RawItem) Season() int {
	return intOrZero(i.ParentIndexNumber)
}

// Episode returns IndexNumber, 0 when absent.
func (i RawItem) Episode() int {
	return intOrZero(i.IndexNumber)
}

// Year returns ProductionYear, 0 when absent.
func (i RawItem) Year() int {
	return intOrZero(i.ProductionYear)
}

// AlbumArtistID returns the id of the first album artist, if any.
func (i RawItem) AlbumArtistID() string {
	if len(i.AlbumArtists) == 0 {
		return ""
	}
	return i.AlbumArtists[0].ID
}

// GetPolicy returns the user's policy, or an empty one.
func (u *RawUser) GetPolicy() RawPolicy {
	if u == nil || u.Policy == nil {
		return RawPolicy{}
	}
	return *u.Policy
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
