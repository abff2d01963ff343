package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnavailable  = errors.New("storage unavailable")
	ErrMissingKey   = errors.New("item is missing key attribute")
	ErrInvalidToken = errors.New("invalid continuation token")
)

// Item is one row. Values are string, float64 or bool; key attributes are always present.
type Item map[string]any

type Key struct {
	PK string
	SK string
}

// Schema names the partition and sort key attributes of a table.
type Schema struct {
	PartitionAttr string
	SortAttr      string
}

func (s Schema) KeyOf(item Item) (Key, error) {
	pk, ok := item[s.PartitionAttr].(string)
	if !ok || pk == "" {
		return Key{}, fmt.Errorf("%w: %s", ErrMissingKey, s.PartitionAttr)
	}
	sk, ok := item[s.SortAttr].(string)
	if !ok || sk == "" {
		return Key{}, fmt.Errorf("%w: %s", ErrMissingKey, s.SortAttr)
	}
	return Key{PK: pk, SK: sk}, nil
}

// Filter is a conjunction of attribute equality conditions on string attributes.
type Filter map[string]string

func (f Filter) Match(item Item) bool {
	for attr, want := range f {
		got, ok := item[attr].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

type QueryInput struct {
	PK         string
	Descending bool
	Limit      int
	StartToken string
}

type ScanInput struct {
	Filter     Filter
	Limit      int
	StartToken string
}

// Page is one response of a paginated read. Next is empty once the read is exhausted.
type Page struct {
	Items []Item
	Next  string
}

type Table interface {
	Name() string
	Schema() Schema
	Get(ctx context.Context, key Key) (Item, error)
	Put(ctx context.Context, item Item) error
	// Delete reports whether a row existed under key and was removed.
	Delete(ctx context.Context, key Key) (bool, error)
	Query(ctx context.Context, in QueryInput) (Page, error)
	Scan(ctx context.Context, in ScanInput) (Page, error)
	BatchDelete(ctx context.Context, keys []Key) error
}

type token struct {
	PK string `json:"pk"`
	SK string `json:"sk"`
}

func EncodeToken(key Key) string {
	raw, _ := json.Marshal(token{PK: key.PK, SK: key.SK})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func DecodeToken(s string) (Key, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	var t token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Key{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return Key{PK: t.PK, SK: t.SK}, nil
}
