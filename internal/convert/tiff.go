package convert

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// convertTIFF fans a multi-page TIFF out per page: each page is extracted
// to PNG, OCR'd to a single-page PDF, and the page PDFs are merged back in
// page order. Page conversions run in a bounded group; a cancelled folder
// deadline aborts outstanding pages.
func convertTIFF(ctx context.Context, inputPath, outputPath string) Outcome {
	pages, err := tiffPageCount(inputPath)
	if err != nil {
		return Failure(fmt.Errorf("tiff page count %s: %w", inputPath, err))
	}
	if pages == 1 {
		return convertImage(ctx, inputPath, outputPath)
	}
	log.Debug().Str("input", inputPath).Int("pages", pages).Msg("Fanning out TIFF pages")

	pagePDFs := make([]string, pages)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < pages; i++ {
		i := i
		g.Go(func() error {
			base := strings.TrimSuffix(inputPath, ".tif")
			base = strings.TrimSuffix(base, ".tiff")
			pagePNG := base + "_page_" + strconv.Itoa(i) + ".png"
			pagePDF := base + "_page_" + strconv.Itoa(i) + ".pdf"

			// ImageMagick's frame-index syntax selects one page.
			if out := runTool(gctx, pagePNG, toolMagick, inputPath+"["+strconv.Itoa(i)+"]", pagePNG); !out.OK() {
				return fmt.Errorf("extract page %d: %w", i, out.Err)
			}
			if out := convertImage(gctx, pagePNG, pagePDF); !out.OK() {
				return fmt.Errorf("convert page %d: %w", i, out.Err)
			}
			pagePDFs[i] = pagePDF
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Failure(fmt.Errorf("tiff %s: %w", inputPath, err))
	}

	if err := mergerForPages.Merge(pagePDFs, outputPath); err != nil {
		return Failure(fmt.Errorf("merge tiff pages %s: %w", inputPath, err))
	}
	for _, f := range pagePDFs {
		os.Remove(f)
	}
	return Success()
}

// tiffPageCount walks the IFD chain of a TIFF file and counts directories.
// Decoding pixel data is left to the external tools; only the directory
// structure is parsed here.
func tiffPageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var header [8]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, fmt.Errorf("not a TIFF file")
	}
	if order.Uint16(header[2:4]) != 42 {
		return 0, fmt.Errorf("bad TIFF magic")
	}

	offset := int64(order.Uint32(header[4:8]))
	pages := 0
	for offset != 0 {
		pages++
		if pages > 1<<16 {
			return 0, fmt.Errorf("IFD chain does not terminate")
		}
		var countBuf [2]byte
		if _, err := f.ReadAt(countBuf[:], offset); err != nil {
			return 0, fmt.Errorf("read IFD at %d: %w", offset, err)
		}
		entries := int64(order.Uint16(countBuf[:]))

		var nextBuf [4]byte
		if _, err := f.ReadAt(nextBuf[:], offset+2+entries*12); err != nil {
			return 0, fmt.Errorf("read next-IFD pointer: %w", err)
		}
		offset = int64(order.Uint32(nextBuf[:]))
	}
	return pages, nil
}
