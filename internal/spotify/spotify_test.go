package spotify

import (
	"context"
	"errors"
	"testing"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		typ, id string
		wantErr bool
	}{
		{"spotify:track:abc123", "track", "abc123", false},
		{"https://open.spotify.com/track/abc123?si=x", "track", "abc123", false},
		{"https://open.spotify.com/intl-de/track/abc123", "track", "abc123", false},
		{"https://open.spotify.com/playlist/pl1", "playlist", "pl1", false},
		{"https://open.spotify.com/show/s1", "", "", true},
		{"https://example.com/track/abc", "", "", true},
		{"spotify:track", "", "", true},
	}
	for _, tt := range tests {
		typ, id, err := ParseID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseID(%q) err = %v", tt.in, err)
			continue
		}
		if typ != tt.typ || string(id) != tt.id {
			t.Errorf("ParseID(%q) = %q %q", tt.in, typ, id)
		}
	}
}

func TestIsLink(t *testing.T) {
	if !IsLink("https://open.spotify.com/track/x") || !IsLink("spotify:track:x") {
		t.Fatal("spotify links not detected")
	}
	if IsLink("https://www.youtube.com/watch?v=x") || IsLink("just words") {
		t.Fatal("non-spotify input detected as link")
	}
}

func TestTrackFromLinkRejectsCollections(t *testing.T) {
	c := &Client{}
	_, err := c.TrackFromLink(context.Background(), "https://open.spotify.com/album/a1")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestTrackQuery(t *testing.T) {
	if q := (Track{Name: "Song", Artist: "Band"}).Query(); q != "Song Band" {
		t.Fatalf("Query = %q", q)
	}
	if q := (Track{Name: "Song"}).Query(); q != "Song" {
		t.Fatalf("Query = %q", q)
	}
}
