// Package archive compresses assembled bundles into zip files.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// Ext is the archive file extension.
const Ext = ".zip"

// Archive is a finished archive file.
type Archive struct {
	Path   string
	Name   string
	Size   int64
	SHA256 string // hex
}

// Name returns the archive file name for a bundle directory.
func Name(dir string) string {
	return filepath.Base(filepath.Clean(dir)) + Ext
}

// Zip writes dir to <parent>/<base>.zip with every entry under <base>/.
// Entries are written in lexical order. An existing archive is replaced.
func Zip(dir string) (*Archive, error) {
	dir = filepath.Clean(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive: %s is not a directory", dir)
	}

	base := filepath.Base(dir)
	dest := filepath.Join(filepath.Dir(dir), Name(dir))
	tmp := dest + ".tmp"
	if err := zipDir(dir, base, tmp); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	return Stat(dest)
}

// Stat describes an existing archive, computing its checksum.
func Stat(file string) (*Archive, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("archive: hash %s: %w", file, err)
	}
	return &Archive{
		Path:   file,
		Name:   filepath.Base(file),
		Size:   n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func zipDir(srcDir, prefix, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	w := zip.NewWriter(f)
	// WalkDir visits entries in lexical order.
	err = filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		name := path.Join(prefix, filepath.ToSlash(rel))
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		if d.IsDir() {
			header.Name = name + "/"
			header.Method = zip.Store
			_, err = w.CreateHeader(header)
			return err
		}
		header.Name = name
		header.Method = zip.Deflate

		writer, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		file, err := os.Open(p)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(writer, file)
		return err
	})
	if err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return f.Close()
}
