package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/easeaico/guild-memory-agent/internal/memory"
)

var (
	// ErrRecordingDenied is returned when a member opted out of recordings.
	ErrRecordingDenied = errors.New("recordings are disabled for this member")

	// ErrEmptyVoiceNote is returned for notes without content.
	ErrEmptyVoiceNote = errors.New("voice note content is required")

	// ErrInvalidRecording is returned when a recording lacks a file name or an http(s) URL.
	ErrInvalidRecording = errors.New("recording needs a file name and an http(s) url")

	// ErrNoRecording is returned when a recording id is unknown in the guild.
	ErrNoRecording = errors.New("recording not found")
)

const (
	defaultVoiceLimit = 10
	maxVoiceLimit     = 20
)

func clampVoiceLimit(limit int) int {
	if limit <= 0 {
		return defaultVoiceLimit
	}
	return min(limit, maxVoiceLimit)
}

// AddVoiceNote stores a note for the guild's voice channels on behalf of a member.
func (a *Agent) AddVoiceNote(ctx context.Context, guildID, userID, title, content string) (memory.VoiceNote, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return memory.VoiceNote{}, ErrEmptyVoiceNote
	}
	privacy, err := a.store.GetPrivacy(ctx, guildID, userID)
	if err != nil {
		return memory.VoiceNote{}, err
	}
	if !privacy.AllowStorage {
		return memory.VoiceNote{}, ErrStorageDenied
	}

	note := memory.VoiceNote{
		GuildID:   guildID,
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		Content:   content,
		CreatedAt: time.Now(),
	}
	if note.ID, err = a.store.AddVoiceNote(ctx, note); err != nil {
		return memory.VoiceNote{}, err
	}
	return note, nil
}

// ListVoiceNotes returns the newest notes first, at most 20.
func (a *Agent) ListVoiceNotes(ctx context.Context, guildID string, limit int) ([]memory.VoiceNote, error) {
	return a.store.ListVoiceNotes(ctx, guildID, clampVoiceLimit(limit))
}

// RemoveVoiceNote deletes a note and reports whether it existed.
func (a *Agent) RemoveVoiceNote(ctx context.Context, guildID string, id int64) (bool, error) {
	return a.store.RemoveVoiceNote(ctx, guildID, id)
}

// SaveVoiceRecording stores a reference to an uploaded audio file. The member
// must allow both storage and recordings.
func (a *Agent) SaveVoiceRecording(ctx context.Context, guildID, userID, title, fileName, fileURL string) (memory.VoiceRecording, error) {
	fileName = strings.TrimSpace(fileName)
	fileURL = strings.TrimSpace(fileURL)
	if fileName == "" || !isHTTPURL(fileURL) {
		return memory.VoiceRecording{}, ErrInvalidRecording
	}

	privacy, err := a.store.GetPrivacy(ctx, guildID, userID)
	if err != nil {
		return memory.VoiceRecording{}, err
	}
	if !privacy.AllowStorage {
		return memory.VoiceRecording{}, ErrStorageDenied
	}
	if !privacy.AllowRecording {
		return memory.VoiceRecording{}, ErrRecordingDenied
	}

	rec := memory.VoiceRecording{
		GuildID:   guildID,
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		FileName:  fileName,
		FileURL:   fileURL,
		CreatedAt: time.Now(),
	}
	if rec.ID, err = a.store.AddVoiceRecording(ctx, rec); err != nil {
		return memory.VoiceRecording{}, err
	}
	return rec, nil
}

// ListVoiceRecordings returns the newest recordings first, at most 20.
func (a *Agent) ListVoiceRecordings(ctx context.Context, guildID string, limit int) ([]memory.VoiceRecording, error) {
	return a.store.ListVoiceRecordings(ctx, guildID, clampVoiceLimit(limit))
}

// VoiceRecording looks up one recording of the guild.
func (a *Agent) VoiceRecording(ctx context.Context, guildID string, id int64) (memory.VoiceRecording, error) {
	rec, ok, err := a.store.GetVoiceRecording(ctx, guildID, id)
	if err != nil {
		return memory.VoiceRecording{}, err
	}
	if !ok {
		return memory.VoiceRecording{}, ErrNoRecording
	}
	return rec, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
