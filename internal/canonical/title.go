package canonical

import (
	"fmt"

	"github.com/opd-ai/go-emby-bridge/internal/emby"
)

// FullTitle synthesizes the display title shown in activity lists:
//
//	episode: "Series - s01e05 - Title", or "Series - Title" without indices
//	movie:   "Title (2023)"
//	track:   "Artist - Title"
//
// Missing parts degrade to the bare item name.
func FullTitle(item emby.RawItem) string {
	title := item.Name

	switch MediaType(item.Type) {
	case MediaEpisode:
		series := item.SeriesName
		season, episode := item.Season(), item.Episode()
		switch {
		case series != "" && season != 0 && episode != 0 && title != "":
			return fmt.Sprintf("%s - s%02de%02d - %s", series, season, episode, title)
		case series != "" && title != "":
			return fmt.Sprintf("%s - %s", series, title)
		}
	case MediaMovie:
		if year := item.Year(); title != "" && year != 0 {
			return fmt.Sprintf("%s (%d)", title, year)
		}
	case MediaTrack:
		if item.AlbumArtist != "" && title != "" {
			return fmt.Sprintf("%s - %s", item.AlbumArtist, title)
		}
	}

	return title
}
