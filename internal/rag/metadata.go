package rag

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/linnemanlabs/soctriage/internal/incident"
	"github.com/linnemanlabs/soctriage/internal/router"
)

// docClass is the classification inferred for one document.
type docClass struct {
	DocType  string
	Category incident.Category // empty when the document is not category specific
}

type classRule struct {
	match router.Predicate
	class docClass
}

func hasPrefix(prefix string) router.Predicate {
	return func(name string) bool { return strings.HasPrefix(name, prefix) }
}

// classRules are evaluated in order against the lower-cased file name; the
// first match wins.
var classRules = []classRule{
	{hasPrefix("methodology"), docClass{DocType: DocTypeMethodology}},
	{router.Contains("evidence", "escalation"), docClass{DocType: DocTypePolicy}},
	{router.Contains("phishing"), docClass{DocType: DocTypePlaybook, Category: incident.CategoryPhishing}},
	{router.Contains("bruteforce"), docClass{DocType: DocTypePlaybook, Category: incident.CategoryBruteforce}},
	{router.Contains("account_takeover", "ato"), docClass{DocType: DocTypePlaybook, Category: incident.CategoryAccountTakeover}},
}

// InferClass classifies a document from its file name.
func InferClass(path string) (docType string, category incident.Category) {
	name := strings.ToLower(filepath.Base(path))
	for _, r := range classRules {
		if r.match(name) {
			return r.class.DocType, r.class.Category
		}
	}
	return DocTypePlaybook, ""
}

// FlattenMetadata drops values an index cannot store as a scalar column
// (maps, slices, structs, nil). The filter keys doc_type and
// category_primary must survive as strings.
func FlattenMetadata(m Metadata) (Metadata, error) {
	out := make(Metadata, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case string, bool, float64, float32, int, int64, uint64:
			out[k] = v
		case int32:
			out[k] = int64(v)
		case uint32:
			out[k] = uint64(v)
		}
	}
	for _, key := range []string{KeyDocType, KeyCategory} {
		if _, ok := out[key].(string); !ok {
			return nil, fmt.Errorf("metadata key %q must be a string", key)
		}
	}
	return out, nil
}
