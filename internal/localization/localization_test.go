package localization

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_LoadsBuiltinCatalogs(t *testing.T) {
	l := Default()

	assert.ElementsMatch(t, []string{"en", "zh"}, l.Languages())
	assert.Equal(t, "Your match request expires in 1.5 minutes. Stay online to keep waiting.",
		l.Format("en", "expiry_warning", 1.5))
	assert.Contains(t, l.Format("zh", "expiry_warning", 1.5), "1.5")
}

func TestLocalizer_Fallbacks(t *testing.T) {
	fsys := fstest.MapFS{
		"i18n/en.json":    {Data: []byte(`{"greeting":"hello","only_en":"english"}`)},
		"i18n/uk.json":    {Data: []byte(`{"greeting":"привіт"}`)},
		"i18n/readme.txt": {Data: []byte("ignored")},
	}
	l, err := NewLocalizer(fsys, "i18n")
	require.NoError(t, err)

	assert.Equal(t, "привіт", l.GetString("uk", "greeting"))
	assert.Equal(t, "english", l.GetString("uk", "only_en"))
	assert.Equal(t, "hello", l.GetString("fr", "greeting"))
	assert.Equal(t, "missing_key", l.GetString("en", "missing_key"))
}

func TestNewLocalizer_Errors(t *testing.T) {
	_, err := NewLocalizer(fstest.MapFS{}, "nope")
	assert.Error(t, err)

	_, err = NewLocalizer(fstest.MapFS{"l/en.json": {Data: []byte("{")}}, "l")
	assert.ErrorContains(t, err, "failed to parse localization file en.json")
}
