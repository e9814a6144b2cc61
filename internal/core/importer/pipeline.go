package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"recipe-importer/internal/core/bulk"
	"recipe-importer/internal/core/extractor"
	"recipe-importer/internal/core/fetcher"
	recipeimage "recipe-importer/internal/core/image"
	"recipe-importer/internal/core/ratelimit"
	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/core/usage"
	"recipe-importer/internal/pkg/common"
)

// 匯入來源
const (
	SourceSocial  = "social"
	SourceWebsite = "website"
	SourcePhoto   = "photo"
	SourceManual  = "manual"
)

const (
	maxTitleRunes    = 300
	maxCategoryRunes = 100
)

// Deps 匯入流程的協作元件
type Deps struct {
	Limiter         ratelimit.Limiter
	Social          fetcher.Fetcher
	Website         fetcher.Fetcher
	Photos          PhotoPreparer
	Extractor       RecipeExtractor
	Images          ImageResolver
	Recipes         RecipeStore
	Guard           DuplicateFinder
	Usage           QuotaAccountant
	Categories      CategoryIndex
	Batches         *bulk.Registry
	BulkConcurrency int
}

// Pipeline 抓取 → 擷取 → 圖片 → 去重 → 配額 → 寫入 → 計數
type Pipeline struct {
	limiter     ratelimit.Limiter
	social      fetcher.Fetcher
	website     fetcher.Fetcher
	photos      PhotoPreparer
	extractor   RecipeExtractor
	images      ImageResolver
	recipes     RecipeStore
	guard       DuplicateFinder
	usage       QuotaAccountant
	categories  CategoryIndex
	batches     *bulk.Registry
	concurrency int
}

// New 建立匯入流程
func New(d Deps) *Pipeline {
	if d.BulkConcurrency <= 0 {
		d.BulkConcurrency = bulk.DefaultConcurrency
	}
	if d.Batches == nil {
		d.Batches = bulk.NewRegistry(time.Hour)
	}
	return &Pipeline{
		limiter:     d.Limiter,
		social:      d.Social,
		website:     d.Website,
		photos:      d.Photos,
		extractor:   d.Extractor,
		images:      d.Images,
		recipes:     d.Recipes,
		guard:       d.Guard,
		usage:       d.Usage,
		categories:  d.Categories,
		batches:     d.Batches,
		concurrency: d.BulkConcurrency,
	}
}

// Outcome 匯入結果；Duplicate 時 Recipe 為既有的資料列
type Outcome struct {
	Recipe    *recipe.Recipe     `json:"recipe"`
	Duplicate bool               `json:"duplicate"`
	Feature   common.FeatureKind `json:"feature"`
}

// draft 寫入前的候選食譜
type draft struct {
	doc       *common.ExtractedRecipe
	image     recipeimage.Resolution
	sourceURL string
	photoRef  string
}

// ImportSocial 匯入 Instagram / TikTok 貼文
func (p *Pipeline) ImportSocial(ctx context.Context, ownerID, rawURL string) (out *Outcome, err error) {
	start := time.Now()
	defer func() { observeImport(SourceSocial, outcomeOf(out, err), start) }()

	if ownerID == "" {
		return nil, common.ErrNotAuthenticated
	}
	postURL := strings.TrimSpace(rawURL)
	if _, err := fetcher.DetectPlatform(postURL); err != nil {
		return nil, err
	}
	return p.importLink(ctx, ownerID, SourceSocial, postURL, p.social)
}

// ImportWebsite 匯入一般食譜網頁
func (p *Pipeline) ImportWebsite(ctx context.Context, ownerID, rawURL string) (out *Outcome, err error) {
	start := time.Now()
	defer func() { observeImport(SourceWebsite, outcomeOf(out, err), start) }()

	if ownerID == "" {
		return nil, common.ErrNotAuthenticated
	}
	pageURL, err := fetcher.ValidateWebsiteURL(rawURL)
	if err != nil {
		return nil, err
	}
	return p.importLink(ctx, ownerID, SourceWebsite, pageURL, p.website)
}

func (p *Pipeline) importLink(ctx context.Context, ownerID, kind, sourceURL string, f fetcher.Fetcher) (*Outcome, error) {
	if err := p.checkRate(ctx, ownerID); err != nil {
		return nil, err
	}

	// 抓取前先查一次，已匯入過就不必花費外部服務
	existing, err := p.guard.FindBySource(ctx, ownerID, sourceURL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Outcome{Recipe: existing, Duplicate: true, Feature: common.FeatureLinkImport}, nil
	}
	if err := p.usage.CheckQuota(ctx, ownerID, common.FeatureLinkImport); err != nil {
		return nil, err
	}

	// 抓取開始後不隨呼叫端取消，使用者離開畫面也會完成匯入
	ctx = context.WithoutCancel(ctx)
	res, err := f.Fetch(ctx, sourceURL)
	if err != nil {
		common.LogWarn("Source fetch failed",
			zap.String("source", kind),
			zap.String("url", sourceURL),
			zap.Error(err),
		)
		return nil, err
	}

	defaults := common.DefaultRecipeDefaults()
	if t := strings.TrimSpace(res.Title); t != "" {
		defaults.Title = common.TruncateRunes(t, maxTitleRunes)
	}
	doc := p.extractor.ExtractText(ctx, extractor.TextSource{
		Kind:    kind,
		URL:     sourceURL,
		Title:   res.Title,
		Content: res.RawContent,
	}, defaults)

	img := p.images.Resolve(ctx, res.CandidateImageURL, doc.Title, doc.ImageKeywords)
	return p.persist(ctx, ownerID, draft{doc: doc, image: img, sourceURL: sourceURL})
}

// ImportPhoto 單張照片掃描；擷取失敗會回傳錯誤讓使用者重試
func (p *Pipeline) ImportPhoto(ctx context.Context, ownerID string, data []byte) (out *Outcome, err error) {
	start := time.Now()
	defer func() { observeImport(SourcePhoto, outcomeOf(out, err), start) }()

	if ownerID == "" {
		return nil, common.ErrNotAuthenticated
	}
	prepared, err := p.photos.Prepare(data)
	if err != nil {
		return nil, err
	}
	if err := p.checkRate(ctx, ownerID); err != nil {
		return nil, err
	}
	if err := p.usage.CheckQuota(ctx, ownerID, common.FeaturePhotoScan); err != nil {
		return nil, err
	}
	return p.scanPhoto(context.WithoutCancel(ctx), ownerID, data, prepared)
}

func (p *Pipeline) scanPhoto(ctx context.Context, ownerID string, data []byte, prepared *fetcher.Result) (*Outcome, error) {
	doc, err := p.extractor.ExtractImage(ctx, prepared.ImageDataURI, common.DefaultRecipeDefaults())
	if err != nil {
		return nil, err
	}
	img := p.images.ResolveBytes(ctx, data, doc.Title, doc.ImageKeywords)
	return p.persist(ctx, ownerID, draft{doc: doc, image: img, photoRef: photoRef(data)})
}

// BatchItem 批次中成功的項目
type BatchItem struct {
	RecipeID  string `json:"recipeId"`
	Title     string `json:"title"`
	Category  string `json:"category"`
	Duplicate bool   `json:"duplicate"`
}

// StartPhotoBatch 兩張以上照片以背景批次處理，速率限制只計一次
func (p *Pipeline) StartPhotoBatch(ctx context.Context, ownerID string, files [][]byte) (*bulk.Batch, error) {
	if ownerID == "" {
		return nil, common.ErrNotAuthenticated
	}
	if len(files) < 2 {
		return nil, common.NewValidationError("a photo batch needs at least two files")
	}
	if err := p.checkRate(ctx, ownerID); err != nil {
		return nil, err
	}

	batch := p.batches.Create(ownerID, len(files))
	runCtx := context.WithoutCancel(ctx)
	go p.RunPhotoBatch(runCtx, ownerID, batch, files)

	common.LogInfo("Photo batch started",
		zap.String("batch_id", batch.ID),
		zap.String("user_id", ownerID),
		zap.Int("files", len(files)),
	)
	return batch, nil
}

// RunPhotoBatch 以並發上限處理每張照片，單張失敗不影響其他照片
func (p *Pipeline) RunPhotoBatch(ctx context.Context, ownerID string, batch *bulk.Batch, files [][]byte) bulk.Result[BatchItem] {
	return bulk.Run(ctx, batch, files, p.concurrency, func(ctx context.Context, data []byte) (BatchItem, error) {
		start := time.Now()
		out, err := p.scanBatchFile(ctx, ownerID, data)
		observeImport(SourcePhoto, outcomeOf(out, err), start)
		if err != nil {
			bulkItemsTotal.WithLabelValues(outcomeFailed).Inc()
			return BatchItem{}, err
		}
		bulkItemsTotal.WithLabelValues(outcomeOf(out, nil)).Inc()
		return BatchItem{
			RecipeID:  out.Recipe.ID,
			Title:     out.Recipe.Title,
			Category:  out.Recipe.Category,
			Duplicate: out.Duplicate,
		}, nil
	})
}

func (p *Pipeline) scanBatchFile(ctx context.Context, ownerID string, data []byte) (*Outcome, error) {
	prepared, err := p.photos.Prepare(data)
	if err != nil {
		return nil, err
	}
	return p.scanPhoto(ctx, ownerID, data, prepared)
}

// Batch 查詢批次
func (p *Pipeline) Batch(ownerID, id string) (*bulk.Batch, error) {
	return p.batches.Get(ownerID, id)
}

// ManualInput 手動建立食譜
type ManualInput struct {
	Title        string                   `json:"title" binding:"required,max=300"`
	Category     string                   `json:"category" binding:"omitempty,max=100"`
	PrepTime     string                   `json:"prepTime" binding:"omitempty,max=50"`
	Difficulty   string                   `json:"difficulty"`
	Portions     int                      `json:"portions" binding:"omitempty,min=1,max=100"`
	Ingredients  []common.Ingredient      `json:"ingredients"`
	Instructions []common.InstructionStep `json:"instructions"`
	ImageURL     string                   `json:"imageUrl" binding:"omitempty,url"`
}

// CreateManual 手動建立，計入 manual 配額
func (p *Pipeline) CreateManual(ctx context.Context, ownerID string, in ManualInput) (out *Outcome, err error) {
	start := time.Now()
	defer func() { observeImport(SourceManual, outcomeOf(out, err), start) }()

	if ownerID == "" {
		return nil, common.ErrNotAuthenticated
	}
	doc, err := manualDoc(in)
	if err != nil {
		return nil, err
	}

	img := p.images.Resolve(ctx, in.ImageURL, doc.Title, "")
	return p.persist(ctx, ownerID, draft{doc: doc, image: img})
}

func manualDoc(in ManualInput) (*common.ExtractedRecipe, error) {
	d := common.DefaultRecipeDefaults()
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, common.NewValidationError("title is required")
	}

	doc := &common.ExtractedRecipe{
		Title:        title,
		Category:     strings.TrimSpace(in.Category),
		PrepTime:     strings.TrimSpace(in.PrepTime),
		Difficulty:   d.Difficulty,
		Portions:     in.Portions,
		Ingredients:  cleanIngredients(in.Ingredients),
		Instructions: cleanSteps(in.Instructions),
	}
	if doc.Category == "" {
		doc.Category = d.Category
	}
	if doc.PrepTime == "" {
		doc.PrepTime = d.PrepTime
	}
	if doc.Portions <= 0 {
		doc.Portions = d.Portions
	}
	if in.Difficulty != "" {
		level, ok := common.ParseDifficulty(in.Difficulty)
		if !ok {
			return nil, common.NewValidationError("difficulty must be easy, medium or hard")
		}
		doc.Difficulty = level
	}
	return doc, nil
}

func cleanIngredients(in []common.Ingredient) []common.Ingredient {
	out := make([]common.Ingredient, 0, len(in))
	for _, ing := range in {
		name := strings.TrimSpace(ing.Name)
		if name == "" {
			continue
		}
		out = append(out, common.Ingredient{Name: name, Amount: strings.TrimSpace(ing.Amount)})
	}
	return out
}

func cleanSteps(in []common.InstructionStep) []common.InstructionStep {
	out := make([]common.InstructionStep, 0, len(in))
	for _, s := range in {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out = append(out, common.InstructionStep{Text: text, Icon: extractor.SanitizeIcon(s.Icon)})
	}
	return out
}

// persist 第二次去重、配額檢查、寫入與計數
func (p *Pipeline) persist(ctx context.Context, ownerID string, d draft) (*Outcome, error) {
	feature := usage.Classify(usage.ImportArgs{SourceURL: d.sourceURL, SourcePhotoRef: d.photoRef})

	if d.sourceURL != "" {
		existing, err := p.guard.FindBySource(ctx, ownerID, d.sourceURL)
		if err != nil {
			p.images.Release(ctx, d.image.StorageKey)
			return nil, err
		}
		if existing != nil {
			p.images.Release(ctx, d.image.StorageKey)
			return &Outcome{Recipe: existing, Duplicate: true, Feature: feature}, nil
		}
	}

	if err := p.usage.CheckQuota(ctx, ownerID, feature); err != nil {
		p.images.Release(ctx, d.image.StorageKey)
		return nil, err
	}

	rec := buildRecipe(ownerID, d)
	if err := p.recipes.Create(ctx, rec); err != nil {
		p.images.Release(ctx, d.image.StorageKey)

		// 並發匯入同一網址，由先寫入者勝出
		if errors.Is(err, recipe.ErrDuplicateSource) {
			winner, findErr := p.guard.FindBySource(ctx, ownerID, d.sourceURL)
			if findErr == nil && winner != nil {
				return &Outcome{Recipe: winner, Duplicate: true, Feature: feature}, nil
			}
		}
		common.LogError("Failed to persist recipe",
			zap.String("user_id", ownerID),
			zap.String("feature", string(feature)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("persist recipe: %w", err)
	}

	// 寫入成功後的計數與分類統計必須完成，不受呼叫端取消影響
	ctx = context.WithoutCancel(ctx)
	if err := p.usage.Increment(ctx, ownerID, feature); err != nil {
		common.LogError("Failed to increment usage after persist",
			zap.String("user_id", ownerID),
			zap.String("recipe_id", rec.ID),
			zap.String("feature", string(feature)),
			zap.Error(err),
		)
	}
	p.trackCategory(ctx, ownerID, rec.Category, 1)

	common.LogInfo("Recipe imported",
		zap.String("user_id", ownerID),
		zap.String("recipe_id", rec.ID),
		zap.String("feature", string(feature)),
		zap.Bool("has_image", rec.ImageURL != ""),
	)
	return &Outcome{Recipe: rec, Feature: feature}, nil
}

func buildRecipe(ownerID string, d draft) *recipe.Recipe {
	doc := d.doc
	return &recipe.Recipe{
		OwnerID:         ownerID,
		Title:           common.TruncateRunes(doc.Title, maxTitleRunes),
		Category:        common.TruncateRunes(doc.Category, maxCategoryRunes),
		PrepTime:        doc.PrepTime,
		Difficulty:      doc.Difficulty,
		Portions:        doc.Portions,
		Ingredients:     doc.Ingredients,
		Instructions:    doc.Instructions,
		ImageURL:        d.image.DisplayURL,
		ImageKey:        d.image.StorageKey,
		PlaceholderHash: d.image.PlaceholderHash,
		SourceImageURL:  d.image.SourceImageURL,
		SourcePhotoRef:  d.photoRef,
		SourceURL:       recipe.StringPtr(d.sourceURL),
	}
}

// trackCategory 統計失敗不影響已寫入的食譜；資料列已變動，統計不隨呼叫端取消
func (p *Pipeline) trackCategory(ctx context.Context, ownerID, name string, delta int) {
	ctx = context.WithoutCancel(ctx)
	if delta > 0 {
		if _, err := p.categories.EnsureCategoryExists(ctx, ownerID, name); err != nil {
			common.LogWarn("Failed to ensure category", zap.String("category", name), zap.Error(err))
		}
	}
	if err := p.categories.Adjust(ctx, ownerID, name, delta); err != nil {
		common.LogError("Failed to adjust category stats",
			zap.String("user_id", ownerID),
			zap.String("category", name),
			zap.Int("delta", delta),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) checkRate(ctx context.Context, ownerID string) error {
	if p.limiter.Check(ctx, ownerID) {
		return nil
	}
	st := p.limiter.Status(ctx, ownerID)
	common.LogWarn("Import rate limit exceeded",
		zap.String("user_id", ownerID),
		zap.Time("reset_at", st.ResetAt),
	)
	return &common.RateLimitExceededError{ResetAt: st.ResetAt}
}

// photoRef 上傳照片的內容摘要，用來標記拍照匯入
func photoRef(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:16])
}

func outcomeOf(out *Outcome, err error) string {
	if err != nil {
		if _, ok := common.AsImportError(err); ok || common.IsValidationError(err) {
			return outcomeRejected
		}
		return outcomeFailed
	}
	if out == nil {
		return outcomeFailed
	}
	if out.Duplicate {
		return outcomeDuplicate
	}
	if out.Recipe != nil && len(out.Recipe.Ingredients) == 0 && len(out.Recipe.Instructions) == 0 {
		return outcomeDegraded
	}
	return outcomeCreated
}
