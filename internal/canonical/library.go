package canonical

import (
	"slices"

	"github.com/goccy/go-json"

	"github.com/opd-ai/go-emby-bridge/internal/emby"
)

const (
	libraryAgent    = "com.emby.agent.none"
	libraryScanner  = "Emby Media Scanner"
	libraryLanguage = "en"
)

// Library is an Emby virtual folder in canonical (section) form.
// Locations is the JSON-encoded path list; Paths returns it as a slice.
type Library struct {
	SectionID      string `json:"section_id"`
	SectionName    string `json:"section_name"`
	SectionType    string `json:"section_type"`
	Agent          string `json:"agent"`
	Scanner        string `json:"scanner"`
	Language       string `json:"language"`
	UUID           string `json:"uuid"`
	Locations      string `json:"locations"`
	IsActive       int    `json:"is_active"`
	CollectionType string `json:"collection_type"`

	paths []string
}

// NewLibrary normalizes one raw library. It returns false only when raw is
// nil.
func NewLibrary(raw *emby.RawLibrary) (Library, bool) {
	if raw == nil {
		return Library{}, false
	}

	paths := slices.Clone(raw.Locations)
	if paths == nil {
		paths = []string{}
	}

	return Library{
		SectionID:      raw.ItemID,
		SectionName:    raw.Name,
		SectionType:    SectionType(raw.CollectionType),
		Agent:          libraryAgent,
		Scanner:        libraryScanner,
		Language:       libraryLanguage,
		UUID:           raw.ItemID,
		Locations:      encodeLocations(paths),
		IsActive:       1,
		CollectionType: raw.CollectionType,
		paths:          paths,
	}, true
}

// Paths returns the storage locations of the library. For a record decoded
// from JSON the list is recovered from Locations.
func (l Library) Paths() []string {
	if l.paths != nil {
		return slices.Clone(l.paths)
	}
	var paths []string
	if err := json.Unmarshal([]byte(l.Locations), &paths); err != nil || paths == nil {
		return []string{}
	}
	return paths
}

func encodeLocations(paths []string) string {
	data, err := json.Marshal(paths)
	if err != nil {
		return "[]"
	}
	return string(data)
}
