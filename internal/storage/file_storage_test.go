package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSaveAndOpen(t *testing.T) {
	store, err := NewReceiptStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	path, err := store.Save("taxi receipt.pdf", []byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	assert.Equal(t, ".pdf", filepath.Ext(path))
	assert.NotContains(t, filepath.Base(path), " ", "stored name is generated")

	content, err := store.Open(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 fake"), content)
}

func TestSaveRejectsUnknownTypes(t *testing.T) {
	store, err := NewReceiptStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	_, err = store.Save("malware.exe", []byte{0x4d, 0x5a})
	assert.Error(t, err)
}

func TestOpenRejectsOutsidePaths(t *testing.T) {
	dir := t.TempDir()
	store, err := NewReceiptStore(filepath.Join(dir, "receipts"), zap.NewNop())
	require.NoError(t, err)

	outside := filepath.Join(dir, "secret.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))

	_, err = store.Open(outside)
	assert.Error(t, err)

	_, err = store.Open(filepath.Join(dir, "receipts", "..", "secret.pdf"))
	assert.Error(t, err)
}
