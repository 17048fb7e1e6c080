package backend

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// Stub is a Generator that fabricates artifacts locally. It backs development
// setups without provider credentials and keeps worker tests hermetic.
type Stub struct{}

func (Stub) Generate(_ context.Context, req Request) (Result, error) {
	switch req.MediaType {
	case "image":
		w, h := stubDimensions(req.AspectRatio)
		img := imaging.New(w, h, color.NRGBA{R: 0x30, G: 0x30, B: 0x38, A: 0xff})
		if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
			return Result{}, fmt.Errorf("failed to create artifact directory: %w", err)
		}
		if err := imaging.Save(img, req.OutputPath); err != nil {
			return Result{}, fmt.Errorf("failed to write stub image: %w", err)
		}
		return Result{OutputPath: req.OutputPath}, nil
	case "video":
		if err := writeArtifact(req.OutputPath, []byte("stub video artifact")); err != nil {
			return Result{}, err
		}
		return Result{OutputPath: req.OutputPath}, nil
	default:
		return Result{}, Invalid(fmt.Sprintf("unsupported media type %q", req.MediaType))
	}
}

func stubDimensions(aspectRatio string) (int, int) {
	switch aspectRatio {
	case "9:16":
		return 90, 160
	case "3:4":
		return 120, 160
	case "1:1":
		return 128, 128
	default:
		return 160, 90
	}
}
