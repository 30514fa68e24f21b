package batch

import (
	"archive/zip"
	"io"
	"os"
)

// writeZip creates a DEFLATE archive at outPath from (entryName, sourcePath)
// pairs.
func writeZip(outPath string, entries [][2]string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, entry := range entries {
		src, err := os.Open(entry[1])
		if err != nil {
			zw.Close()
			return err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: entry[0], Method: zip.Deflate})
		if err != nil {
			src.Close()
			zw.Close()
			return err
		}
		if _, err := io.Copy(w, src); err != nil {
			src.Close()
			zw.Close()
			return err
		}
		src.Close()
	}
	return zw.Close()
}
