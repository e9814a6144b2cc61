package fetcher

import (
	"context"
	"fmt"

	recipeimage "recipe-importer/internal/core/image"
	"recipe-importer/internal/pkg/common"
)

const (
	// PhotoMaxDimension 交給模型前的照片最長邊
	PhotoMaxDimension = 1600
	// PhotoJPEGQuality 照片壓縮品質
	PhotoJPEGQuality = 85
)

// PhotoFetcher 照片匯入不需網路，只負責壓縮
type PhotoFetcher struct {
	maxBytes int64
}

// NewPhotoFetcher 建立照片抓取器
func NewPhotoFetcher(maxBytes int64) *PhotoFetcher {
	return &PhotoFetcher{maxBytes: maxBytes}
}

// Fetch 接受 data URI 或 base64
func (f *PhotoFetcher) Fetch(_ context.Context, dataURI string) (*Result, error) {
	data, err := recipeimage.FromDataURI(dataURI)
	if err != nil {
		return nil, common.NewValidationError(err.Error())
	}
	return f.Prepare(data)
}

// Prepare 解碼、縮小並以固定品質重新編碼
func (f *PhotoFetcher) Prepare(data []byte) (*Result, error) {
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, common.NewValidationError(fmt.Sprintf("image size exceeds maximum limit of %d bytes", f.maxBytes))
	}

	img, err := recipeimage.Decode(data)
	if err != nil {
		return nil, common.NewValidationError(err.Error())
	}

	compressed, err := recipeimage.EncodeJPEG(recipeimage.Fit(img, PhotoMaxDimension), PhotoJPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("compress photo: %w", err)
	}

	return &Result{ImageDataURI: recipeimage.ToDataURI(compressed)}, nil
}
