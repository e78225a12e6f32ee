package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Message is a minimal persisted view of a chat turn.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text,omitempty"`
}

// Session is the state kept between CLI invocations.
type Session struct {
	ThreadID   string    `json:"thread_id,omitempty"`
	Transcript []Message `json:"transcript"`
}

// Append records one turn.
func (s *Session) Append(role, text string) {
	s.Transcript = append(s.Transcript, Message{Role: role, Text: text})
}

// Reset forgets the thread and transcript.
func (s *Session) Reset() {
	*s = Session{}
}

// LoadSession reads path. A missing file yields an empty session. A bare
// JSON array of messages is accepted as a transcript without a thread.
func LoadSession(path string) (Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, nil
		}
		return Session{}, err
	}
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return Session{}, fmt.Errorf("decode %s: %w", path, err)
		}
		return Session{Transcript: msgs}, nil
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

// SaveSession writes s to path through a temp file and rename.
func SaveSession(path string, s Session) error {
	b, err := json.MarshalIndent(s, "", " ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
