package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative file", "config.json", false},
		{"nested relative", "data/whatstopic.db", false},
		{"absolute", "/var/lib/whatstopic/whatstopic.db", false},
		{"dots in name", "backup..db", false},
		{"empty", "", true},
		{"traversal", "../etc/passwd", true},
		{"embedded traversal", "data/../../etc/passwd", true},
		{"nul byte", "data\x00.db", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilePathWithBase(t *testing.T) {
	base := t.TempDir()

	assert.NoError(t, ValidateFilePathWithBase("media_1.jpg", base))
	assert.NoError(t, ValidateFilePathWithBase(filepath.Join(base, "media_1.jpg"), base))
	assert.Error(t, ValidateFilePathWithBase("/etc/passwd", base))
	assert.Error(t, ValidateFilePathWithBase("../outside.jpg", base))
}
