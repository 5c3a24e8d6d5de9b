package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	root := t.TempDir()
	configs := filepath.Join(root, "configs")
	private := filepath.Join(root, "private")
	require.NoError(t, os.MkdirAll(configs, 0o755))
	require.NoError(t, os.MkdirAll(private, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(private, "site.yaml"), []byte("camera_name: x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(configs, "site.yaml"), []byte("camera_name: y\n"), 0o644))
	link := filepath.Join(configs, "shared")
	require.NoError(t, os.Symlink(private, link))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing file", filepath.Join(configs, "site.yaml"), false},
		{"file not created yet", filepath.Join(configs, "new", "site.yaml"), false},
		{"dot dot", filepath.Join(configs, "..", "private", "site.yaml"), true},
		{"relative escape", "../../../etc/passwd", true},
		{"absolute elsewhere", "/etc/passwd", true},
		{"through symlink", filepath.Join(link, "site.yaml"), true},
		{"symlink itself", link, true},
		{"new file under symlink", filepath.Join(link, "later.yaml"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, configs)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, ValidatePathWithinDirectory(filepath.Join(root, "x.yaml"), filepath.Join(root, "missing")),
		"the safe directory must exist")
}
