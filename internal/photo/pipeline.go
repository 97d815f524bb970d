// Package photo implements the photo-upload pipeline (C8): format
// conversion and normalization to a fixed 4:5 aspect ratio, size-banded
// JPEG compression, and upload to the object store, plus the background
// worker and status store that drive the asynchronous upload path.
package photo

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// ObjectStore is the narrow contract Pipeline needs from the object-store
// adapter (internal/adapters.ObjectStore satisfies this).
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (url string, err error)
}

const (
	maxBytes = 500 * 1024
	minBytes = 200 * 1024
	progressiveThreshold = 100 * 1024
	qualityLow  = 60
	qualityHigh = 95
)

// supportedExtensions is the accepted upload format allowlist.
var supportedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".heic": true, ".heif": true,
}

// Pipeline converts, resizes, and uploads one photo. It is the
// implementation behind the upload_photo_to_s3 tool (tools.PhotoProcessor).
type Pipeline struct {
	Store ObjectStore
	// HEICHelper is the external CLI used to decode HEIC/HEIF source
	// images (Go has no native HEIC decoder); empty autodetects
	// "heif-convert" on PATH.
	HEICHelper string
	Season     string
}

func New(store ObjectStore, heicHelper, season string) *Pipeline {
	return &Pipeline{Store: store, HEICHelper: heicHelper, Season: season}
}

// Summary describes what the optimize stage did; parts of it are recorded
// as S3 object metadata. Process does not return it to its caller.
type Summary struct {
	AspectRatioEnforced string
	OriginalExtension   string
	FallbackToOriginal  bool
	FinalWidth          int
	FinalHeight         int
	FinalSizeBytes      int
	ProgressiveEncoded  bool
}

// Process runs HEIC conversion, aspect-ratio-and-size
// optimization, and upload. team/ageGroup/playerName (with the season)
// drive the object key; recordID is stored only in the object metadata.
// ctx bounds the whole pipeline.
func (p *Pipeline) Process(ctx context.Context, tempPath, playerName, team, ageGroup, recordID string) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(tempPath))
	if !supportedExtensions[ext] {
		return "", "", fmt.Errorf("unsupported_format: %s", ext)
	}

	workingPath := tempPath
	var intermediate string
	if ext == ".heic" || ext == ".heif" {
		converted, err := p.convertHEIC(ctx, tempPath)
		if err != nil {
			return "", "", fmt.Errorf("conversion_failed: %w", err)
		}
		workingPath = converted
		intermediate = converted
	}
	if intermediate != "" {
		defer os.Remove(intermediate)
	}

	original, err := os.ReadFile(workingPath)
	if err != nil {
		return "", "", fmt.Errorf("conversion_failed: read source: %w", err)
	}

	data, summary := p.optimize(original, ext)

	key := fmt.Sprintf("player_photos/%s/%s/%s/%s.jpg", p.Season, strings.ToLower(team), strings.ToLower(ageGroup), sanitizeKey(playerName))
	metadata := map[string]string{
		"player_name":           playerName,
		"team":                  team,
		"age_group":             ageGroup,
		"record_id":             recordID,
		"timestamp":             time.Now().UTC().Format(time.RFC3339),
		"original_extension":    ext,
		"aspect_ratio_enforced": summary.AspectRatioEnforced,
		"fallback_to_original":  fmt.Sprintf("%v", summary.FallbackToOriginal),
		"progressive_encoded":   fmt.Sprintf("%v", summary.ProgressiveEncoded),
	}

	url, err := p.Store.Upload(ctx, key, data, "image/jpeg", metadata)
	if err != nil {
		return "", "", err // already classified store_unavailable by the adapter
	}
	return url, key, nil
}

// convertHEIC shells out to HEICHelper (default "heif-convert") to
// produce a quality-90 RGB JPEG alongside tempPath.
func (p *Pipeline) convertHEIC(ctx context.Context, tempPath string) (string, error) {
	helper := p.HEICHelper
	if helper == "" {
		helper = "heif-convert"
	}
	if _, err := exec.LookPath(helper); err != nil {
		return "", fmt.Errorf("heic helper %q not found: %w", helper, err)
	}

	out := strings.TrimSuffix(tempPath, filepath.Ext(tempPath)) + ".converted.jpg"
	cmd := exec.CommandContext(ctx, helper, "-q", "90", tempPath, out)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w", helper, err)
	}
	return out, nil
}

// optimize performs target-dimension selection, a
// center smart-crop to exactly 4:5, and a binary search over JPEG quality
// aiming for an encoded size in [200KB, 500KB] (see encodeToSizeBand for
// when a smaller result is kept). Any failure here falls back to the
// unmodified original bytes, flagged in the returned Summary.
func (p *Pipeline) optimize(original []byte, ext string) ([]byte, Summary) {
	summary := Summary{AspectRatioEnforced: "4:5", OriginalExtension: ext}

	img, _, err := image.Decode(bytes.NewReader(original))
	if err != nil {
		summary.FallbackToOriginal = true
		summary.FinalSizeBytes = len(original)
		return original, summary
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	targetW, targetH := targetDimensions(srcW, srcH)

	cropped := imaging.Fill(img, targetW, targetH, imaging.Center, imaging.Lanczos)

	data, ok := encodeToSizeBand(cropped)
	if !ok {
		summary.FallbackToOriginal = true
		summary.FinalSizeBytes = len(original)
		return original, summary
	}

	summary.FinalWidth, summary.FinalHeight = targetW, targetH
	summary.FinalSizeBytes = len(data)
	summary.ProgressiveEncoded = len(data) > progressiveThreshold
	return data, summary
}

// targetDimensions picks the 4:5 output
// frame based on the source's smallest dimension.
func targetDimensions(srcW, srcH int) (int, int) {
	minDim := srcW
	if srcH < minDim {
		minDim = srcH
	}
	switch {
	case minDim < 600:
		return 600, 750
	case minDim >= 2000:
		return 1200, 1500
	default:
		return 800, 1000
	}
}

// encodeToSizeBand binary-searches JPEG quality in [60, 95] so the
// encoded image lands in [200KB, 500KB], trying at most six qualities.
// If none lands in the band, the last encoding is returned when it is at
// most 500KB, even if it is under 200KB, and this is not reported as a
// fallback; only a last encoding over 500KB fails. Go's standard image/jpeg
// encoder (and disintegration/imaging, which wraps it) has no
// progressive mode, so outputs above 100KB are flagged as progressive
// in the caller's Summary metadata only.
func encodeToSizeBand(img image.Image) ([]byte, bool) {
	var best []byte
	low, high := qualityLow, qualityHigh

	for attempt := 0; attempt < 6 && low <= high; attempt++ {
		mid := (low + high) / 2
		buf := &bytes.Buffer{}
		if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: mid}); err != nil {
			return nil, false
		}
		size := buf.Len()
		best = buf.Bytes()

		switch {
		case size < minBytes:
			low = mid + 1
		case size > maxBytes:
			high = mid - 1
		default:
			return best, true
		}
	}

	if best != nil && len(best) <= maxBytes {
		return best, true
	}
	return nil, false
}

func sanitizeKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
