// Package queue defines the external collaborator the mixer consumes: a
// source of playback items with accurate-duration feedback. playcast does
// not implement a catalogue or playlist engine; Source is the seam a
// concrete queue implementation plugs into.
package queue

import "github.com/playcast/playcast/internal/audio"

// MediaType distinguishes catalogue tracks (eligible for loudness analysis)
// from radio/live streams.
type MediaType int

const (
	MediaTrack MediaType = iota
	MediaRadio
)

// ProviderCandidate is one entry in an item's provider_list, offering a
// quality and an identifier the source pipeline resolves to StreamDetails.
type ProviderCandidate struct {
	ProviderID string
	Quality    audio.Quality
}

// Item is what the mixer asks the queue for: a track or stream along with
// its provider candidates, ordered by descending quality. Duration and
// StreamDetails are mutated by the mixer as playback proceeds.
type Item struct {
	ItemID       string
	Name         string
	MediaType    MediaType
	Providers    []ProviderCandidate
	Duration     float64 // seconds; corrected by the mixer on item completion
	StreamTitle  string  // populated from StreamDetails once playback starts

	details *audio.StreamDetails
}

// SetStreamDetails records the StreamDetails a provider resolved to, once
// per playback.
func (i *Item) SetStreamDetails(d *audio.StreamDetails) {
	i.details = d
	if d != nil && d.StreamTitle != "" {
		i.StreamTitle = d.StreamTitle
	}
}

// StreamDetails returns the previously resolved StreamDetails, or nil if
// none has been resolved yet.
func (i *Item) StreamDetails() *audio.StreamDetails {
	return i.details
}

// Source offers the queue's playback-facing surface: the next item to
// play, and the session-wide crossfade/resample configuration. Control
// sinks (play/pause/stop/skip/previous/shuffle/volume) are consumed by the
// DACP control server through this same interface.
type Source interface {
	// StartSession returns the first item of a new playback session, or
	// nil if the queue is empty.
	StartSession() *Item
	// NextItem returns the item following the one last returned, or nil
	// when the queue is exhausted.
	NextItem() *Item

	CrossfadeEnabled() bool
	CrossfadeDurationSeconds() int // 0..30
	MaxSampleRate() int

	// ElapsedTime returns the current playback position in seconds of the
	// item in progress, used for DACP PROGRESS reporting.
	ElapsedTime() float64

	Play()
	Pause()
	PlayPause()
	Stop()
	Skip()
	Previous()
	SetShuffle(bool)
	SetVolume(int) // 0..100
}
