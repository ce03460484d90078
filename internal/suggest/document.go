package suggest

import (
	"encoding/json"
	"strings"

	"github.com/Aman-CERP/suggest/internal/kv"
)

// Collection and index names.
const (
	CollectionDocuments  = "documents"
	CollectionReferences = "references"
	IndexToken           = "token"
)

// SchemaVersion is the store schema version written by this package.
const SchemaVersion = 1

// Schema declares the collections backing a Storage.
var Schema = kv.Schema{Collections: []kv.Collection{
	{Name: CollectionDocuments, KeyPath: "key"},
	{
		Name:          CollectionReferences,
		AutoIncrement: true,
		Indexes:       []kv.Index{{Name: IndexToken, KeyPath: "token"}},
	},
}}

// Document is a unit of indexed text.
type Document struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Key returns the composite key "type:id".
func (d Document) Key() string { return DocumentKey(d.Type, d.ID) }

// DocumentKey builds the composite key for a type and id.
func DocumentKey(typ, id string) string { return typ + ":" + id }

// SplitKey splits a composite key at its first colon. ok is false unless
// both parts are non-empty.
func SplitKey(key string) (typ, id string, ok bool) {
	typ, id, ok = strings.Cut(key, ":")
	return typ, id, ok && typ != "" && id != ""
}

// indexedDocument is the persisted form of a Document. TokenRefs holds the
// ids of the postings written for the document's current text.
type indexedDocument struct {
	Key       string   `json:"key"`
	Document  Document `json:"document"`
	TokenRefs []uint64 `json:"tokenRefs"`
}

// posting records that token occurs in the document with DocumentKey.
type posting struct {
	Token       string `json:"token"`
	DocumentKey string `json:"documentKey"`
}

func decodeDocument(raw []byte) (*indexedDocument, error) {
	if raw == nil {
		return nil, nil
	}
	var rec indexedDocument
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func decodePosting(raw []byte) (posting, error) {
	var p posting
	err := json.Unmarshal(raw, &p)
	return p, err
}
