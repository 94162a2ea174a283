package mirror

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// encodeDocument serializes a document to its remote JSON form.
func encodeDocument(doc Document) ([]byte, error) {
	data, err := sonic.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("mirror: encode document: %w", err)
	}
	return data, nil
}

// decodeDocument parses the remote JSON form. Unknown fields are ignored so
// documents written by newer app versions still decode.
func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("mirror: decode document: %w", err)
	}
	return doc, nil
}

// mergeDocument overlays doc onto the existing encoded document and returns the
// merged encoding. Fields omitted from doc's encoding (unset optionals) and
// fields the current model does not know about keep their existing remote
// values. A nil or unparseable existing document degrades to a plain encode.
func mergeDocument(existing []byte, doc Document) ([]byte, error) {
	if len(existing) == 0 {
		return encodeDocument(doc)
	}

	var base map[string]any
	if err := sonic.Unmarshal(existing, &base); err != nil {
		return encodeDocument(doc)
	}

	encoded, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}
	var overlay map[string]any
	if err := sonic.Unmarshal(encoded, &overlay); err != nil {
		return nil, fmt.Errorf("mirror: merge document: %w", err)
	}

	for key, value := range overlay {
		base[key] = value
	}

	merged, err := sonic.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("mirror: merge document: %w", err)
	}
	return merged, nil
}
