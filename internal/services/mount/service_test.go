package mount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mvollmer/nasmirror/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExecutor is a mock implementation of CommandExecutor for testing.
type mockExecutor struct {
	executeFunc func(ctx context.Context, name string, args ...string) ([]byte, error)
	calls       [][]string
}

func (m *mockExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, append([]string{name}, args...))
	if m.executeFunc != nil {
		return m.executeFunc(ctx, name, args...)
	}
	return nil, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.NASConfig {
	return models.NASConfig{
		Address:    "192.168.1.10",
		Username:   "backup",
		Password:   "secret",
		SMBVersion: "3.0",
	}
}

func writeMountsFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mounts")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestMount_Success(t *testing.T) {
	sourceRoot := t.TempDir()
	executor := &mockExecutor{}

	svc := NewWithExecutor(testLogger(), executor, "")
	result, err := svc.Mount(context.Background(), testConfig(), sourceRoot, models.Share{Name: "docs"})

	require.NoError(t, err)
	require.Nil(t, result.Error)
	assert.Equal(t, "docs", result.Share)
	assert.Equal(t, filepath.Join(sourceRoot, "docs"), result.MountPoint)

	// Mount point directory was created
	info, err := os.Stat(result.MountPoint)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.Len(t, executor.calls, 1)
	call := executor.calls[0]
	assert.Equal(t, "mount", call[0])
	assert.Contains(t, call, "-t")
	assert.Contains(t, call, "cifs")
	assert.Contains(t, call, "//192.168.1.10/docs")
	assert.Contains(t, call, "username=backup,password=secret,vers=3.0,noperm")
}

func TestMount_CommandFails(t *testing.T) {
	sourceRoot := t.TempDir()
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("mount error(13): Permission denied"), errors.New("exit status 32")
		},
	}

	svc := NewWithExecutor(testLogger(), executor, "")
	result, err := svc.Mount(context.Background(), testConfig(), sourceRoot, models.Share{Name: "docs"})

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.True(t, errors.Is(result.Error, models.ErrMountFailed))
	assert.Contains(t, result.Error.Error(), "Permission denied")
}

func TestCleanupAll_UnmountsUnderRootOnly(t *testing.T) {
	sourceRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sourceRoot, "docs"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(sourceRoot, "media"), 0o755))

	mountsFile := writeMountsFile(t,
		"/dev/sda1 / ext4 rw 0 0",
		fmt.Sprintf("//192.168.1.10/docs %s cifs rw 0 0", filepath.Join(sourceRoot, "docs")),
		fmt.Sprintf("//192.168.1.10/media %s cifs rw 0 0", filepath.Join(sourceRoot, "media")),
		"//192.168.1.10/other /mnt/elsewhere cifs rw 0 0",
	)

	executor := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), executor, mountsFile)

	result, err := svc.CleanupAll(context.Background(), sourceRoot)

	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.ElementsMatch(t, []string{
		filepath.Join(sourceRoot, "docs"),
		filepath.Join(sourceRoot, "media"),
	}, result.Unmounted)

	for _, call := range executor.calls {
		assert.Equal(t, "umount", call[0])
		assert.NotEqual(t, "/mnt/elsewhere", call[1])
	}

	// The now-empty mount point directories were removed
	assert.Equal(t, 2, result.RemovedDirs)
	entries, err := os.ReadDir(sourceRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanupAll_NoMounts_IsNoop(t *testing.T) {
	sourceRoot := t.TempDir()
	mountsFile := writeMountsFile(t, "/dev/sda1 / ext4 rw 0 0")

	executor := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), executor, mountsFile)

	result, err := svc.CleanupAll(context.Background(), sourceRoot)

	require.NoError(t, err)
	assert.Empty(t, result.Unmounted)
	assert.Empty(t, result.Errors)
	assert.Empty(t, executor.calls)

	// Calling again is still a no-op
	result, err = svc.CleanupAll(context.Background(), sourceRoot)
	require.NoError(t, err)
	assert.Empty(t, result.Unmounted)
	assert.Zero(t, result.RemovedDirs)
}

func TestCleanupAll_KeepsNonEmptyDirs(t *testing.T) {
	sourceRoot := t.TempDir()
	keep := filepath.Join(sourceRoot, "keep")
	require.NoError(t, os.MkdirAll(keep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(keep, "file.txt"), []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(sourceRoot, "empty", "nested"), 0o755))

	mountsFile := writeMountsFile(t, "/dev/sda1 / ext4 rw 0 0")
	svc := NewWithExecutor(testLogger(), &mockExecutor{}, mountsFile)

	result, err := svc.CleanupAll(context.Background(), sourceRoot)

	require.NoError(t, err)
	// empty/nested and then empty itself are removed in one pass
	assert.Equal(t, 2, result.RemovedDirs)
	_, err = os.Stat(keep)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(sourceRoot, "empty"))
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupAll_UmountFailureIsRecorded(t *testing.T) {
	sourceRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sourceRoot, "docs"), 0o755))

	mountsFile := writeMountsFile(t,
		fmt.Sprintf("//192.168.1.10/docs %s cifs rw 0 0", filepath.Join(sourceRoot, "docs")),
	)

	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("target is busy"), errors.New("exit status 32")
		},
	}
	svc := NewWithExecutor(testLogger(), executor, mountsFile)

	result, err := svc.CleanupAll(context.Background(), sourceRoot)

	require.NoError(t, err)
	assert.Empty(t, result.Unmounted)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "target is busy")
}

func TestMountPointsUnder_DeepestFirst(t *testing.T) {
	mountsFile := writeMountsFile(t,
		"//n/a /mnt/nas/a cifs rw 0 0",
		"//n/b /mnt/nas/a/deeper cifs rw 0 0",
	)
	svc := NewWithExecutor(testLogger(), &mockExecutor{}, mountsFile)

	points, err := svc.mountPointsUnder("/mnt/nas")

	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "/mnt/nas/a/deeper", points[0])
	assert.Equal(t, "/mnt/nas/a", points[1])
}

func TestUnescapeOctal(t *testing.T) {
	assert.Equal(t, "/mnt/my share", unescapeOctal(`/mnt/my\040share`))
	assert.Equal(t, "/mnt/plain", unescapeOctal("/mnt/plain"))
	assert.Equal(t, `/mnt/tab	dir`, unescapeOctal(`/mnt/tab\011dir`))
}
