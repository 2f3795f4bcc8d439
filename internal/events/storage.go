// Package events defines the JSON payloads that travel between the storage
// trigger, the queues and the routers.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ObjectCreated mirrors the S3 bucket notification document. MinIO and S3
// both deliver object keys URL-encoded with '+' standing in for spaces.
type ObjectCreated struct {
	Records []ObjectRecord `json:"Records"`
}

// ObjectRecord is one entry of an ObjectCreated notification.
type ObjectRecord struct {
	EventName string   `json:"eventName,omitempty"`
	S3        S3Entity `json:"s3"`
}

// S3Entity holds the bucket/object pair of a record.
type S3Entity struct {
	Bucket S3Bucket `json:"bucket"`
	Object S3Object `json:"object"`
}

type S3Bucket struct {
	Name string `json:"name"`
}

type S3Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size,omitempty"`
}

// NewObjectCreated builds a single-record notification. The key is encoded
// the same way the storage service would encode it.
func NewObjectCreated(bucket, key string) ObjectCreated {
	return ObjectCreated{Records: []ObjectRecord{{
		EventName: "s3:ObjectCreated:Put",
		S3: S3Entity{
			Bucket: S3Bucket{Name: bucket},
			Object: S3Object{Key: url.QueryEscape(key)},
		},
	}}}
}

// NewEncodedRecord wraps a key that is already URL-encoded, as delivered by a
// bucket notification.
func NewEncodedRecord(eventName, bucket, encodedKey string, size int64) ObjectRecord {
	return ObjectRecord{
		EventName: eventName,
		S3: S3Entity{
			Bucket: S3Bucket{Name: bucket},
			Object: S3Object{Key: encodedKey, Size: size},
		},
	}
}

// ParseObjectCreated decodes a notification and rejects documents without records.
func ParseObjectCreated(data []byte) (ObjectCreated, error) {
	var evt ObjectCreated
	if err := json.Unmarshal(data, &evt); err != nil {
		return ObjectCreated{}, fmt.Errorf("decode object notification: %w", err)
	}
	if len(evt.Records) == 0 {
		return ObjectCreated{}, errors.New("object notification has no records")
	}
	return evt, nil
}

// DecodeKey percent-decodes an object key and turns '+' into a space.
func DecodeKey(raw string) (string, error) {
	key, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("decode object key %q: %w", raw, err)
	}
	if key == "" {
		return "", errors.New("empty object key")
	}
	return key, nil
}

var imageExtensions = map[string]struct{}{
	".jpeg": {},
	".jpg":  {},
	".png":  {},
}

// IsImageKey reports whether a decoded key ends in an accepted image extension.
func IsImageKey(key string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(key))]
	return ok
}
