package Transformer

import (
	"os"
	"path/filepath"
	"strings"
)

// FindFiles walks root and returns every file with the extension ext
// (without dot, case insensitive). macOS resource forks are ignored.
func FindFiles(root string, ext string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "__MACOSX" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(info.Name(), "._") {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(info.Name()), "."+strings.ToLower(ext)) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// FindShapefile returns the only .shp below dir.
func FindShapefile(dir string) (string, error) {
	files, err := FindFiles(dir, "shp")
	if err != nil {
		return "", Error.Wrap(err)
	}
	switch len(files) {
	case 0:
		return "", Error.New("archive contains no .shp file")
	case 1:
		return files[0], nil
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i], _ = filepath.Rel(dir, f)
	}
	return "", Error.New("archive contains %d .shp files: %s", len(files), strings.Join(names, ", "))
}

// LowerExtensions renames the siblings of shpPath whose extension is not
// lower case ("A.SHP", "A.Dbf") and returns the new .shp path. go-shp only
// opens lower case names.
func LowerExtensions(shpPath string) (string, error) {
	dir := filepath.Dir(shpPath)
	stem := strings.TrimSuffix(filepath.Base(shpPath), filepath.Ext(shpPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", Error.Wrap(err)
	}
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if e.IsDir() || strings.TrimSuffix(name, ext) != stem || ext == strings.ToLower(ext) {
			continue
		}
		if err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, stem+strings.ToLower(ext))); err != nil {
			return "", Error.Wrap(err)
		}
	}
	return filepath.Join(dir, stem+".shp"), nil
}
