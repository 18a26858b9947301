// Package galmirror contains the domain types shared by the gallery index
// mirror: the upstream galleryinfo record, its search-optimized Info
// projection, and the contracts the mirroring engine consumes.
package galmirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrGalleryinfoNotFound is returned by galleryinfo lookups when the
	// upstream index or the relational store has no record for an id.
	ErrGalleryinfoNotFound = errors.New("galleryinfo not found")

	// ErrInfoNotFound is returned by info lookups against the document store.
	ErrInfoNotFound = errors.New("info not found")
)

// ID identifies one gallery. The upstream index serializes ids sometimes as
// JSON numbers and sometimes as strings, so ID tolerates both on decode.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) > 1 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("galleryinfo id %q: %w", s, err)
		}
		*id = ID(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n)
	return nil
}

// Tag is one tag on a galleryinfo. Female and Male qualify who the tag
// applies to; both false means the tag is unqualified. The upstream encodes
// the qualifiers inconsistently ("1", "", 1, null, true), so Tag tolerates
// all of those on decode.
type Tag struct {
	Tag    string `json:"tag"`
	Female bool   `json:"female"`
	Male   bool   `json:"male"`
}

func (t *Tag) UnmarshalJSON(b []byte) error {
	var raw struct {
		Tag    string          `json:"tag"`
		Female json.RawMessage `json:"female"`
		Male   json.RawMessage `json:"male"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t.Tag = raw.Tag
	var err error
	if t.Female, err = truthy(raw.Female); err != nil {
		return fmt.Errorf("tag %q: female: %w", raw.Tag, err)
	}
	if t.Male, err = truthy(raw.Male); err != nil {
		return fmt.Errorf("tag %q: male: %w", raw.Tag, err)
	}
	return nil
}

func truthy(b json.RawMessage) (bool, error) {
	if len(b) == 0 || string(b) == "null" {
		return false, nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return false, err
		}
		return s != "" && s != "0", nil
	case 't', 'f':
		var v bool
		err := json.Unmarshal(b, &v)
		return v, err
	default:
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return false, err
		}
		return n != 0, nil
	}
}

// File describes one page image of a gallery.
type File struct {
	Name    string `json:"name"`
	Hash    string `json:"hash"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	HasWebP bool   `json:"haswebp"`
	HasAVIF bool   `json:"hasavif"`
}

// Galleryinfo is the full upstream record for one gallery. It is the
// authoritative form stored in the relational store. The engine only depends
// on the ID field, structural equality of the whole record, and the Info
// derivation.
type Galleryinfo struct {
	ID                ID       `json:"id"`
	Title             string   `json:"title"`
	JapaneseTitle     string   `json:"japanese_title,omitempty"`
	Language          string   `json:"language"`
	LanguageLocalname string   `json:"language_localname,omitempty"`
	Type              string   `json:"type"`
	Date              string   `json:"date"`
	Artists           []string `json:"artists"`
	Groups            []string `json:"groups"`
	Parodys           []string `json:"parodys"`
	Characters        []string `json:"characters"`
	Tags              []Tag    `json:"tags"`
	Files             []File   `json:"files"`
}

// Info is the projection of a Galleryinfo kept in the document store for
// search-optimized reads. It is identified by the same ID.
type Info struct {
	ID         ID       `json:"id"`
	Title      string   `json:"title"`
	Artists    []string `json:"artists"`
	Groups     []string `json:"groups"`
	Type       string   `json:"type"`
	Language   string   `json:"language"`
	Series     []string `json:"series"`
	Characters []string `json:"characters"`
	Tags       []string `json:"tags"`
	Date       string   `json:"date"`
}

// InfoFromGalleryinfo derives the document-store projection of g. The
// derivation is pure and deterministic: field order follows g, and qualified
// tags are flattened to "female:x" / "male:x" strings.
func InfoFromGalleryinfo(g *Galleryinfo) *Info {
	tags := make([]string, 0, len(g.Tags))
	for _, t := range g.Tags {
		switch {
		case t.Female:
			tags = append(tags, "female:"+t.Tag)
		case t.Male:
			tags = append(tags, "male:"+t.Tag)
		default:
			tags = append(tags, t.Tag)
		}
	}

	return &Info{
		ID:         g.ID,
		Title:      g.Title,
		Artists:    g.Artists,
		Groups:     g.Groups,
		Type:       g.Type,
		Language:   g.Language,
		Series:     g.Parodys,
		Characters: g.Characters,
		Tags:       tags,
		Date:       g.Date,
	}
}

// GalleryinfoSource is the remote gallery index the mirror reads from.
type GalleryinfoSource interface {
	// Galleryinfo fetches the upstream record for id. It returns an error
	// wrapping ErrGalleryinfoNotFound if the upstream has no such gallery.
	Galleryinfo(ctx context.Context, id ID) (*Galleryinfo, error)

	// AllIDs returns every id the upstream index currently advertises.
	AllIDs(ctx context.Context) ([]ID, error)

	// IndexFiles reports the index file names this source reads, for status.
	IndexFiles() []string
}

// GalleryinfoStore is the local relational store of full galleryinfo records.
type GalleryinfoStore interface {
	Galleryinfo(ctx context.Context, id ID) (*Galleryinfo, error)
	Create(ctx context.Context, g *Galleryinfo) error
	Delete(ctx context.Context, id ID) error
	AllIDs(ctx context.Context) ([]ID, error)
}

// InfoStore is the local document store of derived Info records.
type InfoStore interface {
	Info(ctx context.Context, id ID) (*Info, error)
	Create(ctx context.Context, info *Info) error
	Delete(ctx context.Context, id ID) error
	AllIDs(ctx context.Context) ([]ID, error)
}
