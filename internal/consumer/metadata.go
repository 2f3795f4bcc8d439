package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/events"
	"github.com/dharsanguruparan/photolib/internal/model"
	"github.com/dharsanguruparan/photolib/internal/router"
)

// FieldSetter writes one metadata field of an existing photo.
type FieldSetter interface {
	SetField(ctx context.Context, id string, field model.Field, value string) error
}

// Metadata applies single-field updates routed by metadata_type.
type Metadata struct {
	store FieldSetter
	log   zerolog.Logger
}

// NewMetadata builds the metadata consumer.
func NewMetadata(store FieldSetter, log zerolog.Logger) *Metadata {
	return &Metadata{store: store, log: componentLogger(log, "metadata")}
}

// Handle applies one metadata update.
func (c *Metadata) Handle(ctx context.Context, env router.Envelope) error {
	err := c.handle(ctx, env)
	if IsPermanent(err) {
		c.log.Warn().Err(err).Str("envelope", env.ID).Msg("dropping metadata message")
	}
	return observe("metadata", err)
}

func (c *Metadata) handle(ctx context.Context, env router.Envelope) error {
	var msg events.MetadataUpdate
	if err := json.Unmarshal(env.Body, &msg); err != nil {
		return Permanent(fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	if msg.ID == "" {
		return Permanent(fmt.Errorf("%w: missing id", ErrMalformed))
	}
	field, err := resolveField(msg.Field, env.Attributes[events.AttrMetadataType])
	if err != nil {
		return Permanent(err)
	}
	if err := c.store.SetField(ctx, msg.ID, field, msg.Value); err != nil {
		return fmt.Errorf("set %s on %s: %w", field, msg.ID, err)
	}
	c.log.Info().Str("id", msg.ID).Stringer("field", field).Msg("metadata updated")
	return nil
}

// resolveField picks the field from the payload, falling back to the routing
// attribute. When both are present they must agree.
func resolveField(payload, attribute string) (model.Field, error) {
	switch {
	case payload == "" && attribute == "":
		return 0, errors.New("metadata message names no field")
	case payload == "":
		return model.ParseField(attribute)
	}
	field, err := model.ParseField(payload)
	if err != nil {
		return 0, err
	}
	if attribute != "" && attribute != field.Attribute() {
		return 0, fmt.Errorf("field %q disagrees with metadata_type %q", payload, attribute)
	}
	return field, nil
}
