// Package model contains the record and enum definitions shared across packages.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPhotoNotFound is returned by every Entity Store implementation when an
// update or read targets an id that was never ingested.
var ErrPhotoNotFound = errors.New("photo not found")

// Status describes the review lifecycle of a photo.
type Status string

const (
	StatusUnset  Status = "Unset"
	StatusPass   Status = "Pass"
	StatusReject Status = "Reject"
)

// ParseDecision accepts only the two terminal review decisions. Unset is a
// storage state, never a decision a reviewer can send.
func ParseDecision(v string) (Status, error) {
	switch Status(v) {
	case StatusPass, StatusReject:
		return Status(v), nil
	default:
		return "", fmt.Errorf("invalid decision %q", v)
	}
}

// Field is the closed set of independently settable metadata fields.
type Field int

const (
	FieldCaption Field = iota + 1
	FieldDate
	FieldName
)

var fields = []Field{FieldCaption, FieldDate, FieldName}

// Fields returns every metadata field in declaration order.
func Fields() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// MetadataTypes returns the router attribute values of every metadata field.
// The review router derives both of its filters from this list.
func MetadataTypes() []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Attribute())
	}
	return out
}

// Attribute is the value carried in the metadata_type message attribute.
func (f Field) Attribute() string {
	switch f {
	case FieldCaption:
		return "Caption"
	case FieldDate:
		return "Date"
	case FieldName:
		return "Name"
	}
	return ""
}

// String is the lower-case payload name (caption, date, name).
func (f Field) String() string {
	return strings.ToLower(f.Attribute())
}

// ParseField resolves a payload field name or an attribute value.
func ParseField(v string) (Field, error) {
	v = strings.TrimSpace(v)
	for _, f := range fields {
		if strings.EqualFold(v, f.String()) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unrecognized metadata field %q", v)
}

// Photo is the per-photo Entity Record. Optional fields are pointers so an
// unset field can be told apart from an empty string.
type Photo struct {
	ID               string    `json:"id"`
	Caption          *string   `json:"caption,omitempty"`
	CaptureDate      *string   `json:"date,omitempty"`
	PhotographerName *string   `json:"name,omitempty"`
	Status           Status    `json:"status,omitempty"`
	Reason           *string   `json:"reason,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Set assigns a single metadata field and leaves the rest untouched.
func (p *Photo) Set(field Field, value string) {
	v := value
	switch field {
	case FieldCaption:
		p.Caption = &v
	case FieldDate:
		p.CaptureDate = &v
	case FieldName:
		p.PhotographerName = &v
	}
}

// Value reports the current value of a metadata field.
func (p *Photo) Value(field Field) (string, bool) {
	var ptr *string
	switch field {
	case FieldCaption:
		ptr = p.Caption
	case FieldDate:
		ptr = p.CaptureDate
	case FieldName:
		ptr = p.PhotographerName
	}
	if ptr == nil {
		return "", false
	}
	return *ptr, true
}

// StatusUpdate is applied as one unit: status and reason are never written
// separately. Date is optional and only overwrites when present.
type StatusUpdate struct {
	Status Status
	Reason *string
	Date   *string
}
