package docstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireChange is the encoding used by backends that ship changes across
// processes.
type wireChange struct {
	Type       string          `json:"type"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Version    int64           `json:"version"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreateTime int64           `json:"ctime,omitempty"`
	UpdateTime int64           `json:"utime,omitempty"`
}

func EncodeChange(c Change) ([]byte, error) {
	w := wireChange{
		Type:       c.Type.String(),
		Collection: c.Key.Collection,
		ID:         c.Key.ID,
		Version:    c.Version,
	}
	if c.Document != nil {
		w.Data = c.Document.Data
		w.CreateTime = c.Document.CreateTime.UnixNano()
		w.UpdateTime = c.Document.UpdateTime.UnixNano()
	}
	return json.Marshal(w)
}

func DecodeChange(payload []byte) (Change, error) {
	var w wireChange
	if err := json.Unmarshal(payload, &w); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	c := Change{
		Key:     Key{Collection: w.Collection, ID: w.ID},
		Version: w.Version,
	}
	switch w.Type {
	case "added":
		c.Type = Added
	case "modified":
		c.Type = Modified
	case "removed":
		c.Type = Removed
	default:
		return Change{}, fmt.Errorf("decode change: unknown type %q", w.Type)
	}
	if c.Type != Removed {
		c.Document = &Document{
			Key:        c.Key,
			Data:       w.Data,
			Version:    w.Version,
			CreateTime: time.Unix(0, w.CreateTime).UTC(),
			UpdateTime: time.Unix(0, w.UpdateTime).UTC(),
		}
	}
	return c, nil
}
