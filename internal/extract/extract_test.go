package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText_PlainFormats(t *testing.T) {
	for _, ext := range []string{"txt", "md", "xml"} {
		got, err := Text([]byte("raw <content> here"), ext)
		require.NoError(t, err, ext)
		assert.Equal(t, "raw <content> here", got)
	}
}

func TestText_CSV(t *testing.T) {
	got, err := Text([]byte("a,b,c\nd,e,f\n"), "csv")
	require.NoError(t, err)
	assert.Equal(t, "a, b, c\nd, e, f\n", got)
}

func TestText_CSV_RaggedRows(t *testing.T) {
	got, err := Text([]byte("a,b\nc\n"), "csv")
	require.NoError(t, err)
	assert.Equal(t, "a, b\nc\n", got)
}

func TestText_CSV_Malformed(t *testing.T) {
	_, err := Text([]byte("a,\"unterminated\n"), "csv")
	assert.Error(t, err)
}

func TestText_JSON_RoundTrip(t *testing.T) {
	in := []byte(`{"b":1,"a":[true,null,"x"]}`)

	got, err := Text(in, "json")
	require.NoError(t, err)

	// Stable 2-space indentation.
	assert.Contains(t, got, "\n  \"a\": [")

	// Re-parsing the output yields a value equal to the original.
	var orig, round interface{}
	require.NoError(t, json.Unmarshal(in, &orig))
	require.NoError(t, json.Unmarshal([]byte(got), &round))
	assert.Equal(t, orig, round)
}

func TestText_JSON_Malformed(t *testing.T) {
	got, err := Text([]byte(`{"a":`), "json")
	assert.Error(t, err)
	assert.Empty(t, got, "no partial result on failure")
}

func TestText_PDF_Garbage(t *testing.T) {
	_, err := Text([]byte("not a pdf at all"), "pdf")
	assert.Error(t, err)
}

func TestText_Docx_Garbage(t *testing.T) {
	_, err := Text([]byte("not a zip archive"), "docx")
	assert.Error(t, err)
}

func TestText_UnsupportedExtension(t *testing.T) {
	_, err := Text([]byte("x"), "exe")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestAllowed(t *testing.T) {
	for _, ext := range []string{"txt", "pdf", "doc", "docx", "md", "csv", "json", "xml"} {
		assert.True(t, Allowed(ext), ext)
	}
	assert.True(t, Allowed("TXT"), "case insensitive")
	assert.False(t, Allowed("exe"))
	assert.False(t, Allowed(""))
}
