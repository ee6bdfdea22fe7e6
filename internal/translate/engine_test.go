package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
)

func TestLanguageNormalization(t *testing.T) {
	cases := []struct {
		in, name, code string
	}{
		{"", "auto", "auto"},
		{"zh", "Chinese", "zh"},
		{"zh-CN", "Chinese", "zh"},
		{"Chinese", "Chinese", "zh"},
		{"中文", "Chinese", "zh"},
		{"en", "English", "en"},
		{" English ", "English", "en"},
		{"英文", "English", "en"},
		{"Japanese", "Japanese", "japanese"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.name, LanguageName(tc.in), tc.in)
		assert.Equal(t, tc.code, LanguageCode(tc.in), tc.in)
	}
}

func TestNewTranslatorSelectsEngine(t *testing.T) {
	s := jobs.DefaultSettings()

	tr, err := NewTranslator(s, nil)
	require.NoError(t, err)
	assert.IsType(t, chatEngine{}, tr)

	s.TranslationEngine = jobs.EngineAliyun
	tr, err = NewTranslator(s, nil)
	require.NoError(t, err)
	assert.IsType(t, mtEngine{}, tr)

	s.TranslationEngine = "deepl"
	_, err = NewTranslator(s, nil)
	assert.Error(t, err)
}

func TestCheckEngine(t *testing.T) {
	s := jobs.DefaultSettings()
	var je *jobs.Error
	require.ErrorAs(t, checkEngine(s), &je)
	assert.Equal(t, jobs.CodeConfigurationMissing, je.Code)

	s.LLMAPIKey = "sk"
	assert.NoError(t, checkEngine(s))

	s.TranslationEngine = jobs.EngineAliyun
	require.ErrorAs(t, checkEngine(s), &je)
	s.AliyunAccessKeyID, s.AliyunAccessKeySecret = "id", "secret"
	assert.NoError(t, checkEngine(s))
}
