package normalize

import (
	"sync"

	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"
)

const englishLemmatizerName = "golem-en"

var (
	englishOnce sync.Once
	english     *golem.Lemmatizer
	englishErr  error
)

// EnglishLemmatizer returns the process-wide English dictionary lemmatizer.
// The dictionary is decoded on first use.
func EnglishLemmatizer() (Lemmatizer, error) {
	englishOnce.Do(func() {
		english, englishErr = golem.New(en.New())
	})
	if englishErr != nil {
		return nil, englishErr
	}
	return english, nil
}
