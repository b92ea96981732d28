package localization_test

import (
	"sort"
	"testing"
	"testing/fstest"

	"tinchat/backend/internal/localization"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLocalizer_LanguagesShareKeys(t *testing.T) {
	l, err := localization.NewDefaultLocalizer()
	require.NoError(t, err)

	langs := l.Languages()
	sort.Strings(langs)
	assert.Equal(t, []string{"en", "uk"}, langs)

	for _, key := range []string{"error.not_in_room", "notice.search_cooldown", "error.spam_message"} {
		en := l.GetString("en", key)
		uk := l.GetString("uk", key)
		assert.NotEqual(t, key, en, "missing en translation for %s", key)
		assert.NotEqual(t, key, uk, "missing uk translation for %s", key)
		assert.NotEqual(t, en, uk, "uk translation for %s is not translated", key)
	}
}

func TestLocalizer_Fallbacks(t *testing.T) {
	fsys := fstest.MapFS{
		"en.json":    {Data: []byte(`{"greeting":"Hello","bye":"Bye"}`)},
		"uk.json":    {Data: []byte(`{"greeting":"Привіт"}`)},
		"README.txt": {Data: []byte("ignored")},
	}
	l, err := localization.NewLocalizer(fsys)
	require.NoError(t, err)

	assert.Equal(t, "Привіт", l.GetString("uk", "greeting"))
	assert.Equal(t, "Bye", l.GetString("uk", "bye"))
	assert.Equal(t, "Hello", l.GetString("fr", "greeting"))
	assert.Equal(t, "missing", l.GetString("en", "missing"))
	assert.Len(t, l.Languages(), 2)
}

func TestLocalizer_RejectsMalformedFile(t *testing.T) {
	fsys := fstest.MapFS{"en.json": {Data: []byte(`{"greeting":`)}}

	_, err := localization.NewLocalizer(fsys)
	assert.Error(t, err)
}

func TestParseAcceptLanguage(t *testing.T) {
	tests := map[string]string{
		"":                       "en",
		"*":                      "en",
		"uk":                     "uk",
		"uk-UA,uk;q=0.9,en;q=0.8": "uk",
		" EN-gb ; q=0.7":         "en",
		"de;q=0.5, en":           "de",
	}
	for header, want := range tests {
		assert.Equal(t, want, localization.ParseAcceptLanguage(header), "header %q", header)
	}
}
