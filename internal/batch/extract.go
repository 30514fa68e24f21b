package batch

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/local/tipificador/internal/apperr"
)

// safeExtract expands a batch archive under destDir. Absolute entry names and
// any path escaping destDir are rejected; decompressed output is capped at
// maxBytes to stop zip bombs.
func safeExtract(zipPath, destDir string, maxBytes int64) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return apperr.Wrap(apperr.BadInput, "el archivo no es un ZIP válido", err)
	}
	defer zr.Close()

	var total int64
	for _, entry := range zr.File {
		name := entry.Name
		if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
			return apperr.Newf(apperr.BadInput, "entrada de ZIP inválida: %q", name)
		}
		clean := filepath.Clean(name)
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return apperr.Newf(apperr.BadInput, "entrada de ZIP inválida: %q", name)
		}
		target := filepath.Join(destDir, clean)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(filepath.Separator)) {
			return apperr.Newf(apperr.BadInput, "entrada de ZIP inválida: %q", name)
		}

		if entry.FileInfo().IsDir() || strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return apperr.Wrap(apperr.Internal, "no se pudo crear el directorio", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return apperr.Wrap(apperr.Internal, "no se pudo crear el directorio", err)
		}

		written, err := extractFile(entry, target, maxBytes-total)
		if err != nil {
			return err
		}
		total += written
		if total > maxBytes {
			return apperr.Newf(apperr.TooLarge, "el lote supera el límite de %d MB", maxBytes>>20)
		}
	}
	return nil
}

func extractFile(entry *zip.File, target string, budget int64) (int64, error) {
	rc, err := entry.Open()
	if err != nil {
		return 0, apperr.Wrap(apperr.BadInput, "no se pudo leer la entrada del ZIP", err)
	}
	defer rc.Close()

	f, err := os.Create(target)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "no se pudo crear el archivo", err)
	}
	defer f.Close()

	written, err := io.Copy(f, io.LimitReader(rc, budget+1))
	if err != nil {
		return written, apperr.Wrap(apperr.BadInput, "fallo al extraer la entrada del ZIP", err)
	}
	return written, nil
}

// discoverPackages lists top-level directories of the expanded archive as
// package names, excluding bookkeeping folders like __MACOSX.
func discoverPackages(inputDir string) ([]string, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "no se pudo listar el lote", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), "__") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// packagePDFs lists the PDFs inside one package folder, recursively, in a
// stable path order.
func packagePDFs(pkgDir string) ([]string, error) {
	var paths []string
	err := filepath.Walk(pkgDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "no se pudo recorrer el paquete", err)
	}
	sort.Strings(paths)
	return paths, nil
}
