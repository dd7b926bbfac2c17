package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/your-org/medface/internal/models"
)

// encodingTable is the id -> vector table. On disk it is a plain JSON object,
// but key order is kept so that enumeration follows registration order.
type encodingTable struct {
	entries []models.GalleryEntry
}

func (t encodingTable) indexOf(id string) int {
	for i, e := range t.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (t *encodingTable) remove(id string) {
	if i := t.indexOf(id); i >= 0 {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
	}
}

func (t encodingTable) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.ID)
		if err != nil {
			return nil, err
		}
		vec, err := json.Marshal(e.Encoding)
		if err != nil {
			return nil, fmt.Errorf("encode vector %s: %w", e.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(vec)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (t *encodingTable) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		t.entries = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("encodings table: expected object, got %v", tok)
	}

	t.entries = t.entries[:0]
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("encodings table: expected key, got %v", tok)
		}
		var vec []float32
		if err := dec.Decode(&vec); err != nil {
			return fmt.Errorf("encodings table: vector %s: %w", id, err)
		}
		if i, ok := seen[id]; ok {
			t.entries[i].Encoding = vec
			continue
		}
		seen[id] = len(t.entries)
		t.entries = append(t.entries, models.GalleryEntry{ID: id, Encoding: vec})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
