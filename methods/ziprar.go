package methods

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver/v3"
	"github.com/zeebo/errs"
)

// ErrArchive is returned for archives that cannot be unpacked safely.
var ErrArchive = errs.Class("archive")

// ExtractArchive unpacks a zip, rar or tar archive into dest. Entries that
// would land outside dest are rejected.
func ExtractArchive(src, dest string) error {
	format, err := archiver.ByExtension(strings.ToLower(filepath.Base(src)))
	if err != nil {
		return ErrArchive.New("unsupported archive %q", filepath.Base(src))
	}
	u, ok := format.(archiver.Unarchiver)
	if !ok {
		return ErrArchive.New("unsupported archive %q", filepath.Base(src))
	}
	if err := os.MkdirAll(dest, os.ModePerm); err != nil {
		return ErrArchive.Wrap(err)
	}

	if err := u.Unarchive(src, dest); err != nil {
		if archiver.IsIllegalPathError(err) {
			return ErrArchive.New("illegal file path in archive: %v", err)
		}
		return ErrArchive.Wrap(err)
	}
	return checkWithin(dest)
}

// checkWithin walks dest and fails if any extracted entry escaped it
// through a symlink.
func checkWithin(dest string) error {
	root, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return ErrArchive.Wrap(err)
	}
	return filepath.Walk(dest, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return nil
		}
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			return ErrArchive.New("%s: broken link", path)
		}
		if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) {
			return ErrArchive.New("%s: illegal file path", path)
		}
		return nil
	})
}
