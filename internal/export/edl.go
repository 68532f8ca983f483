package export

import (
	"fmt"
	"math"
	"path"
	"sort"
	"strings"

	"github.com/clipforge/clipforge/internal/catalog"
)

// FromTimeline builds the events for one track in timeline order. Clips that
// overlap an earlier clip on the track cannot be expressed in a single-track
// EDL and are returned as skipped.
func FromTimeline(clips []*catalog.Clip, track int) ([]Event, []string) {
	var onTrack []*catalog.Clip
	for _, c := range clips {
		if c.TrackIndex == track {
			onTrack = append(onTrack, c)
		}
	}
	sort.SliceStable(onTrack, func(i, j int) bool {
		return onTrack[i].StartTime < onTrack[j].StartTime
	})

	var (
		events  []Event
		skipped []string
		lastEnd int64
	)
	for _, c := range onTrack {
		if c.StartTime < lastEnd {
			skipped = append(skipped, c.ID)
			continue
		}
		events = append(events, eventFor(c))
		lastEnd = c.End()
	}
	return events, skipped
}

func eventFor(c *catalog.Clip) Event {
	channel := "V"
	if c.Kind == catalog.KindAudio {
		channel = "A"
	}

	srcIn := c.TrimStart
	srcOut := srcIn + int64(math.Round(float64(c.Duration)*c.Properties.Speed()))
	if c.Kind == catalog.KindImage {
		srcIn, srcOut = 0, c.Duration
	} else if c.TrimEnd != nil && *c.TrimEnd < srcOut {
		srcOut = *c.TrimEnd
	}

	return Event{
		ClipID:    c.ID,
		ClipName:  clipName(c),
		MediaPath: c.SourceURL,
		Channel:   channel,
		SourceIn:  srcIn,
		SourceOut: srcOut,
		RecordIn:  c.StartTime,
		RecordOut: c.End(),
	}
}

func clipName(c *catalog.Clip) string {
	base := path.Base(c.SourceURL)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if name := SanitizeName(base, 64); name != "" && name != "." && name != "/" {
		return name
	}
	return c.ID
}

func GenerateEDL(events []Event, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = catalog.DefaultFPS
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, ev := range events {
		channel := ev.Channel
		if channel == "" {
			channel = "V"
		}
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", channel,
				msToTimecode(ev.SourceIn, fps), msToTimecode(ev.SourceOut, fps),
				msToTimecode(ev.RecordIn, fps), msToTimecode(ev.RecordOut, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ev.ClipName),
			fmt.Sprintf("* MEDIA PATH:  %s", ev.MediaPath),
		)
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int64, fps int) string {
	totalFrames := int64(math.Round(float64(ms) * float64(fps) / 1000.0))
	f := int64(fps)
	frames := totalFrames % f
	totalSeconds := totalFrames / f
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
