package galmirror

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIDUnmarshal(t *testing.T) {
	cases := []struct {
		raw  string
		want ID
	}{
		{`1783616`, 1783616},
		{`"1783616"`, 1783616},
		{`0`, 0},
	}
	for _, tc := range cases {
		var got ID
		if err := json.Unmarshal([]byte(tc.raw), &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("Unmarshal(%s) = %d, want %d", tc.raw, got, tc.want)
		}
	}

	var id ID
	if err := json.Unmarshal([]byte(`"abc"`), &id); err == nil {
		t.Error("expected error for non-numeric string id")
	}
}

func TestGalleryinfoDecodeStringID(t *testing.T) {
	raw := `{"id":"1669497","title":"t","language":"english","type":"doujinshi","date":"2020-01-01 00:00:00-05"}`
	var g Galleryinfo
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		t.Fatal(err)
	}
	if g.ID != 1669497 {
		t.Errorf("got id %d, want 1669497", g.ID)
	}
}

func TestTagUnmarshal(t *testing.T) {
	cases := []struct {
		raw  string
		want Tag
	}{
		{`{"tag":"x","female":"1","male":""}`, Tag{Tag: "x", Female: true}},
		{`{"tag":"x","female":"","male":"1"}`, Tag{Tag: "x", Male: true}},
		{`{"tag":"x","female":1}`, Tag{Tag: "x", Female: true}},
		{`{"tag":"x","female":null,"male":null}`, Tag{Tag: "x"}},
		{`{"tag":"x","male":true}`, Tag{Tag: "x", Male: true}},
		{`{"tag":"x"}`, Tag{Tag: "x"}},
		{`{"tag":"x","female":"0"}`, Tag{Tag: "x"}},
	}
	for _, tc := range cases {
		var got Tag
		if err := json.Unmarshal([]byte(tc.raw), &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("Unmarshal(%s) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}
}

func TestInfoFromGalleryinfo(t *testing.T) {
	g := &Galleryinfo{
		ID:         42,
		Title:      "sample",
		Language:   "english",
		Type:       "doujinshi",
		Date:       "2023-10-14 10:30:00-05",
		Artists:    []string{"a"},
		Groups:     []string{"g"},
		Parodys:    []string{"original"},
		Characters: []string{"c"},
		Tags: []Tag{
			{Tag: "plain"},
			{Tag: "long hair", Female: true},
			{Tag: "glasses", Male: true},
		},
	}

	want := &Info{
		ID:         42,
		Title:      "sample",
		Artists:    []string{"a"},
		Groups:     []string{"g"},
		Type:       "doujinshi",
		Language:   "english",
		Series:     []string{"original"},
		Characters: []string{"c"},
		Tags:       []string{"plain", "female:long hair", "male:glasses"},
		Date:       "2023-10-14 10:30:00-05",
	}

	got := InfoFromGalleryinfo(g)
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("InfoFromGalleryinfo mismatch (-want, +got):\n%s", d)
	}

	// Derivation is deterministic.
	if d := cmp.Diff(got, InfoFromGalleryinfo(g)); d != "" {
		t.Errorf("InfoFromGalleryinfo not deterministic (-first, +second):\n%s", d)
	}
}
