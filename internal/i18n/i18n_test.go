package i18n

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEveryKeyHasBothLocales(t *testing.T) {
	ar := New("ar")
	en := New("en")
	for key, msg := range messages {
		require.NotEmpty(t, msg.ar, "arabic text for %s", key)
		require.NotEmpty(t, msg.en, "english text for %s", key)
		require.NotEqual(t, string(key), ar.Text(key, 1), "arabic lookup for %s", key)
		require.NotEqual(t, string(key), en.Text(key, 1), "english lookup for %s", key)
	}
}

func TestTextPerLocale(t *testing.T) {
	require.Equal(t, "هذه المهمة لشخص آخر!", New("ar").Text(NotOwner))
	require.Equal(t, "this task belongs to someone else", New("en").Text(NotOwner))
	require.Equal(t, "task 31 does not exist", New("en").Text(InvalidTask, 31))
}

func TestUnknownLocaleFallsBackToArabic(t *testing.T) {
	tr := New("not a locale")
	require.Equal(t, "ar", tr.Locale())
	require.Equal(t, "بيانات ناقصة", tr.Text(MissingFields))

	var zero Translator
	require.Equal(t, "بيانات ناقصة", zero.Text(MissingFields))
}

func TestRegionalVariantMatchesBase(t *testing.T) {
	require.Equal(t, "en", New("en-GB").Locale())
	require.Equal(t, "ar", New("ar-EG").Locale())
}
