package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	_ "image/gif" // 支援 GIF
	_ "image/png" // 支援 PNG

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // 支援 WebP
)

// isSupportedFormat 檢查圖片格式是否支援
func isSupportedFormat(format string) bool {
	supportedFormats := map[string]bool{
		"jpeg": true,
		"png":  true,
		"gif":  true,
		"webp": true,
	}
	return supportedFormats[format]
}

// Decode 解碼圖片並檢查格式
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("image data is empty")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if !isSupportedFormat(format) {
		return nil, fmt.Errorf("unsupported image format: %s", format)
	}
	return img, nil
}

// Fit 等比例縮小至最長邊不超過 maxDim，不放大
func Fit(img image.Image, maxDim int) image.Image {
	return scale(img, maxDim, draw.CatmullRom)
}

// Thumbnail 產生供 placeholder hash 使用的小圖
func Thumbnail(img image.Image, maxDim int) image.Image {
	return scale(img, maxDim, draw.ApproxBiLinear)
}

func scale(img image.Image, maxDim int, scaler draw.Scaler) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	var dw, dh int
	if w >= h {
		dw = maxDim
		dh = max(h*maxDim/w, 1)
	} else {
		dh = maxDim
		dw = max(w*maxDim/h, 1)
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	scaler.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// EncodeJPEG 以固定品質重新編碼
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image as JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// ToDataURI 將 JPEG 轉成 data URI
func ToDataURI(jpegData []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)
}

// FromDataURI 解析 data URI 或純 base64 字串
func FromDataURI(s string) ([]byte, error) {
	payload := s
	if strings.HasPrefix(s, "data:image/") {
		parts := strings.SplitN(s, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid base64 data format")
		}
		payload = parts[1]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 data: %w", err)
	}
	return data, nil
}
