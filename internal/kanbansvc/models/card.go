package models

import (
	"encoding/json"
	"errors"
)

var (
	ErrCardNotObject = errors.New("card must be a JSON object")
	ErrInvalidCardID = errors.New("card id must be a string")
)

// Card is an opaque kanban document. Only the "id" member is interpreted.
type Card map[string]json.RawMessage

// Collection is the ordered list of cards persisted as one JSON array.
type Collection []Card

// ID returns the card id when the "id" member is present and is a JSON string.
func (c Card) ID() (string, bool) {
	raw, ok := c["id"]
	if !ok || len(raw) == 0 || raw[0] != '"' {
		return "", false
	}

	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", false
	}
	return id, true
}

// HasID reports whether the card carries an "id" member of any type.
func (c Card) HasID() bool {
	_, ok := c["id"]
	return ok
}

func (c Card) SetID(id string) {
	raw, _ := json.Marshal(id)
	c["id"] = raw
}

// Validate rejects null cards and cards whose "id" member is present but not a string.
func (c Card) Validate() error {
	if c == nil {
		return ErrCardNotObject
	}
	if !c.HasID() {
		return nil
	}
	if _, ok := c.ID(); !ok {
		return ErrInvalidCardID
	}
	return nil
}

func (cs Collection) Validate() error {
	for _, c := range cs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Normalize returns a non-nil collection so it always encodes as an array.
func (cs Collection) Normalize() Collection {
	if cs == nil {
		return Collection{}
	}
	return cs
}
