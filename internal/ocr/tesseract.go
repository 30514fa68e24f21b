package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Engine runs OCR on rendered page images.
type Engine interface {
	// Recognize returns the text found in the PNG at imagePath.
	Recognize(ctx context.Context, imagePath string) (string, error)
	// Available reports whether the OCR backend can actually run.
	Available() bool
}

// Tesseract shells out to the tesseract binary. Language and page segmentation
// mode come from configuration; a failed run falls back to plainer invocations
// before giving up, and to "eng" if the configured language pack is missing.
type Tesseract struct {
	Lang string
	PSM  int
}

func NewTesseract(lang string, psm int) *Tesseract {
	if lang == "" {
		lang = "eng"
	}
	return &Tesseract{Lang: lang, PSM: psm}
}

// Available runs `tesseract --version` once per call. Cheap enough that
// callers check it at startup, not per page.
func (t *Tesseract) Available() bool {
	cmd := exec.Command(tesseractCmd(), "--version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(output)), "tesseract")
}

func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	args := []string{imagePath, "stdout", "-l", t.Lang}
	if t.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.PSM))
	}

	cmd := exec.CommandContext(ctx, tesseractCmd(), args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return strings.TrimSpace(string(output)), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	// Retry without the PSM hint first, then with plain eng in case the
	// configured language pack is not installed.
	log.Warn().Err(err).Str("image", filepath.Base(imagePath)).Msg("tesseract failed, retrying in basic mode")
	cmd = exec.CommandContext(ctx, tesseractCmd(), imagePath, "stdout", "-l", t.Lang)
	output, err = cmd.CombinedOutput()
	if err == nil {
		return strings.TrimSpace(string(output)), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if t.Lang != "eng" {
		cmd = exec.CommandContext(ctx, tesseractCmd(), imagePath, "stdout", "-l", "eng")
		output, err = cmd.CombinedOutput()
		if err == nil {
			return strings.TrimSpace(string(output)), nil
		}
	}
	return "", fmt.Errorf("tesseract failed: %v - %s", err, strings.TrimSpace(string(output)))
}

// tesseractCmd honors the TESSERACT_CMD override for non-standard installs.
func tesseractCmd() string {
	if cmd := strings.TrimSpace(os.Getenv("TESSERACT_CMD")); cmd != "" {
		return cmd
	}
	return "tesseract"
}

// Disabled is the engine used when OCR is switched off.
type Disabled struct{}

func (Disabled) Recognize(context.Context, string) (string, error) {
	return "", fmt.Errorf("ocr disabled")
}

func (Disabled) Available() bool { return false }
