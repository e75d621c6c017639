package model

import "strings"

// Classifier assigns an item code to the target category that executes it.
type Classifier interface {
	Classify(code string) (Category, bool)
}

// PrefixClassifier classifies by the longest matching code prefix.
type PrefixClassifier map[string]Category

// DefaultClassifier knows the OS (U-) and database (D-, PG-D-, MY-D-) families.
var DefaultClassifier = PrefixClassifier{
	"U-":    CategoryOS,
	"D-":    CategoryDB,
	"PG-D-": CategoryDB,
	"MY-D-": CategoryDB,
}

func (p PrefixClassifier) Classify(code string) (Category, bool) {
	best, cat := 0, Category("")
	for prefix, c := range p {
		if len(prefix) > best && strings.HasPrefix(code, prefix) {
			best, cat = len(prefix), c
		}
	}
	return cat, best > 0
}
