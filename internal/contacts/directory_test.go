package contacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cards = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Alice Example\r\n" +
	"N:Example;Alice;;;\r\n" +
	"TEL;TYPE=CELL:+1 (555) 123-4567\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:No Phone\r\n" +
	"END:VCARD\r\n"

func TestStaticExactMatch(t *testing.T) {
	b, err := Open(Config{Static: map[string]string{"+15551234567": "Alice"}})
	require.NoError(t, err)

	name, ok := b.DisplayName("+15551234567")
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)

	_, ok = b.DisplayName("+15550000000")
	assert.False(t, ok)
}

func TestPhoneNumberEquivalence(t *testing.T) {
	b, err := Open(Config{DefaultRegion: "us", Static: map[string]string{"(555) 123-4567": "Alice"}})
	require.NoError(t, err)

	name, ok := b.DisplayName("+15551234567")
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)
}

func TestNoRegionMeansExactOnly(t *testing.T) {
	b, err := Open(Config{Static: map[string]string{"(555) 123-4567": "Alice"}})
	require.NoError(t, err)
	_, ok := b.DisplayName("+15551234567")
	assert.False(t, ok)
}

func TestReadVCards(t *testing.T) {
	b := NewBook("US")
	require.NoError(t, b.ReadVCards(strings.NewReader(cards)))
	assert.Equal(t, 1, b.Len(), "cards without a phone are skipped")

	name, ok := b.DisplayName("+15551234567")
	assert.True(t, ok)
	assert.Equal(t, "Alice Example", name)
}

func TestLoadFromFileReplacesContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.vcf")
	require.NoError(t, os.WriteFile(path, []byte(cards), 0o600))

	b, err := Open(Config{DefaultRegion: "US", Static: map[string]string{"bob": "Bob"}, VCardPath: path})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())

	require.NoError(t, b.Load(Config{Static: map[string]string{"carol": "Carol"}}))
	_, ok := b.DisplayName("bob")
	assert.False(t, ok)
	name, ok := b.DisplayName("carol")
	assert.True(t, ok)
	assert.Equal(t, "Carol", name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Open(Config{VCardPath: filepath.Join(t.TempDir(), "missing.vcf")})
	assert.Error(t, err)
}
