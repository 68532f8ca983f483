package export

import (
	"strings"
	"testing"

	"github.com/clipforge/clipforge/internal/catalog"
)

func clip(id string, track int, start, dur int64, kind catalog.ClipKind, url string) *catalog.Clip {
	return &catalog.Clip{
		ID:         id,
		ProjectID:  "p1",
		TrackIndex: track,
		StartTime:  start,
		Duration:   dur,
		Kind:       kind,
		SourceURL:  url,
		Properties: catalog.Properties{},
	}
}

func TestGenerateEDL_SingleEvent(t *testing.T) {
	events := []Event{{
		ClipName:  "Intro",
		MediaPath: "/media/intro.mp4",
		Channel:   "V",
		SourceIn:  0,
		SourceOut: 2000,
		RecordIn:  0,
		RecordOut: 2000,
	}}

	edl := GenerateEDL(events, "Project One", 30.0)

	if !strings.Contains(edl, "TITLE: Project One") {
		t.Fatalf("missing title in EDL: %q", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Fatalf("missing non-drop-frame FCM: %q", edl)
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:02:00 00:00:00:00 00:00:02:00") {
		t.Fatalf("missing event line: %q", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  Intro") {
		t.Fatalf("missing clip name comment: %q", edl)
	}
	if !strings.Contains(edl, "* MEDIA PATH:  /media/intro.mp4") {
		t.Fatalf("missing media path comment: %q", edl)
	}
}

func TestGenerateEDL_DropFrame(t *testing.T) {
	edl := GenerateEDL([]Event{{ClipName: "Clip", MediaPath: "/x.mp4", RecordOut: 1000, SourceOut: 1000}}, "Drop", 29.97)
	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
}

func TestGenerateEDL_ZeroFrameRateUsesDefault(t *testing.T) {
	edl := GenerateEDL([]Event{{ClipName: "Clip", SourceOut: 1500, RecordOut: 1500}}, "Default", 0)
	if !strings.Contains(edl, "00:00:01:15") {
		t.Fatalf("expected 30fps timecode, got: %q", edl)
	}
}

func TestFromTimeline_RecordTimesFollowTimeline(t *testing.T) {
	clips := []*catalog.Clip{
		clip("b", 0, 5000, 1500, catalog.KindVideo, "https://cdn.example/b.mp4"),
		clip("a", 0, 0, 1000, catalog.KindVideo, "https://cdn.example/a.mp4?sig=1"),
		clip("other", 1, 0, 9000, catalog.KindVideo, "https://cdn.example/c.mp4"),
	}

	events, skipped := FromTimeline(clips, 0)
	if len(skipped) != 0 {
		t.Fatalf("skipped = %v, want none", skipped)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].ClipID != "a" || events[1].ClipID != "b" {
		t.Fatalf("order = %s,%s want a,b", events[0].ClipID, events[1].ClipID)
	}
	if events[0].ClipName != "a.mp4" {
		t.Errorf("clip name = %q, want a.mp4", events[0].ClipName)
	}
	if events[1].RecordIn != 5000 || events[1].RecordOut != 6500 {
		t.Errorf("record = %d..%d, want 5000..6500", events[1].RecordIn, events[1].RecordOut)
	}

	edl := GenerateEDL(events, "Gap", 30)
	if !strings.Contains(edl, "002  AX       V     C        00:00:00:00 00:00:01:15 00:00:05:00 00:00:06:15") {
		t.Fatalf("gap not preserved in record times: %q", edl)
	}
}

func TestFromTimeline_SourceWindow(t *testing.T) {
	c := clip("v", 0, 1000, 2000, catalog.KindVideo, "/m/v.mp4")
	c.TrimStart = 500
	c.Properties = catalog.Properties{catalog.PropSpeed: 2.0}

	events, _ := FromTimeline([]*catalog.Clip{c}, 0)
	if events[0].SourceIn != 500 || events[0].SourceOut != 4500 {
		t.Fatalf("source = %d..%d, want 500..4500", events[0].SourceIn, events[0].SourceOut)
	}

	end := int64(3000)
	c.TrimEnd = &end
	events, _ = FromTimeline([]*catalog.Clip{c}, 0)
	if events[0].SourceOut != 3000 {
		t.Fatalf("source out = %d, want trim end 3000", events[0].SourceOut)
	}
}

func TestFromTimeline_AudioChannelAndImageSource(t *testing.T) {
	audio := clip("au", 2, 0, 1000, catalog.KindAudio, "/m/a.wav")
	img := clip("im", 2, 1000, 3000, catalog.KindImage, "/m/still.png")
	img.TrimStart = 700

	events, _ := FromTimeline([]*catalog.Clip{audio, img}, 2)
	if events[0].Channel != "A" {
		t.Errorf("audio channel = %q, want A", events[0].Channel)
	}
	if events[1].Channel != "V" || events[1].SourceIn != 0 || events[1].SourceOut != 3000 {
		t.Errorf("image event = %+v, want V 0..3000", events[1])
	}
}

func TestFromTimeline_SkipsOverlaps(t *testing.T) {
	clips := []*catalog.Clip{
		clip("first", 0, 0, 4000, catalog.KindVideo, "/m/1.mp4"),
		clip("overlap", 0, 2000, 4000, catalog.KindVideo, "/m/2.mp4"),
		clip("after", 0, 4000, 1000, catalog.KindVideo, "/m/3.mp4"),
	}
	events, skipped := FromTimeline(clips, 0)
	if len(events) != 2 || events[1].ClipID != "after" {
		t.Fatalf("events = %+v", events)
	}
	if len(skipped) != 1 || skipped[0] != "overlap" {
		t.Fatalf("skipped = %v, want [overlap]", skipped)
	}
}

func TestFromTimeline_EmptyNameFallsBackToID(t *testing.T) {
	events, _ := FromTimeline([]*catalog.Clip{clip("c-1", 0, 0, 100, catalog.KindVideo, "")}, 0)
	if events[0].ClipName != "c-1" {
		t.Fatalf("clip name = %q, want c-1", events[0].ClipName)
	}
}

func TestMsToTimecode(t *testing.T) {
	tests := []struct {
		ms   int64
		fps  int
		want string
	}{
		{0, 30, "00:00:00:00"},
		{1000, 30, "00:00:01:00"},
		{1500, 30, "00:00:01:15"},
		{60000, 30, "00:01:00:00"},
		{3600000, 30, "01:00:00:00"},
		{1000, 24, "00:00:01:00"},
	}

	for _, tc := range tests {
		if got := msToTimecode(tc.ms, tc.fps); got != tc.want {
			t.Errorf("msToTimecode(%d, %d) = %q, want %q", tc.ms, tc.fps, got, tc.want)
		}
	}
}
