package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NewMemory builds a memory with its first version. The memory's Timestamp
// is the creation time of the original version and never changes afterwards.
func NewMemory(userID, content string, memoryType MemoryType) *Memory {
	now := time.Now().UTC()
	version := MemoryVersion{
		ID:         uuid.New().String(),
		Timestamp:  now,
		Content:    content,
		Confidence: 1.0,
	}
	return &Memory{
		ID:             uuid.New().String(),
		UserID:         userID,
		Content:        content,
		Type:           memoryType,
		Timestamp:      now,
		Versions:       []MemoryVersion{version},
		ActiveVersion:  version.ID,
		UserPreference: PreferLatest,
		PrivacyLevel:   PrivacyPrivate,
	}
}

// ActiveContent returns the content of the version identified by
// ActiveVersion. This is the canonical value; the denormalized Content field
// is a read-optimized mirror of it.
func (m *Memory) ActiveContent() (string, bool) {
	for i := range m.Versions {
		if m.Versions[i].ID == m.ActiveVersion {
			return m.Versions[i].Content, true
		}
	}
	return "", false
}

// ActiveVersionRef returns the active version snapshot.
func (m *Memory) ActiveVersionRef() (*MemoryVersion, bool) {
	for i := range m.Versions {
		if m.Versions[i].ID == m.ActiveVersion {
			return &m.Versions[i], true
		}
	}
	return nil, false
}

// LatestVersion returns the most recently appended version.
func (m *Memory) LatestVersion() *MemoryVersion {
	if len(m.Versions) == 0 {
		return nil
	}
	return &m.Versions[len(m.Versions)-1]
}

// AppendVersion appends an immutable snapshot for new content and, unless the
// user pinned an older version, advances ActiveVersion and the Content
// mirror. Returns the new version.
func (m *Memory) AppendVersion(content, context, emotionalTone string, elements NarrativeElements, confidence float64) *MemoryVersion {
	version := MemoryVersion{
		ID:                uuid.New().String(),
		Timestamp:         time.Now().UTC(),
		EmotionalTone:     emotionalTone,
		Content:           content,
		Context:           context,
		NarrativeElements: elements,
		Confidence:        confidence,
	}
	m.Versions = append(m.Versions, version)
	if m.UserPreference != PreferPinned {
		m.ActiveVersion = version.ID
		m.Content = content
	}
	return &m.Versions[len(m.Versions)-1]
}

// PinVersion pins the active projection to an existing version.
func (m *Memory) PinVersion(versionID string) error {
	for i := range m.Versions {
		if m.Versions[i].ID == versionID {
			m.ActiveVersion = versionID
			m.Content = m.Versions[i].Content
			m.UserPreference = PreferPinned
			return nil
		}
	}
	return errors.Errorf("version %s does not belong to memory %s", versionID, m.ID)
}

// MentionedCharacters returns the characters mentioned by the active version.
func (m *Memory) MentionedCharacters() []string {
	v, ok := m.ActiveVersionRef()
	if !ok {
		return nil
	}
	return v.NarrativeElements.Characters
}

// Validate checks the version invariant: a non-empty version log, an
// ActiveVersion that identifies an element of it, and a Content mirror that
// matches the active version's content.
func (m *Memory) Validate() error {
	if len(m.Versions) == 0 {
		return errors.Errorf("memory %s has no versions", m.ID)
	}
	content, ok := m.ActiveContent()
	if !ok {
		return errors.Errorf("memory %s active version %s is not in the version log", m.ID, m.ActiveVersion)
	}
	if m.Content != content {
		return errors.Errorf("memory %s content does not mirror active version %s", m.ID, m.ActiveVersion)
	}
	return nil
}
