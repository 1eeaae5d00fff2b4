package cache

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is one cached item, serialized into a tier's byte-value storage.
type Entry struct {
	Key          string            `json:"key"`
	Value        []byte            `json:"value"`
	ContentType  string            `json:"content_type"`
	Headers      map[string]string `json:"headers,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	ETag         string            `json:"etag"`
	Tags         []string          `json:"tags,omitempty"`
	HitCount     int               `json:"hit_count"`
	Compressed   bool              `json:"compressed"`
	SizeBytes    int               `json:"size_bytes"`
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

func encodeEntry(e *Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(raw []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
