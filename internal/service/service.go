package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"maktabshop/backend/internal/cache"
	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/invoicedoc"
	"maktabshop/backend/internal/metrics"
	"maktabshop/backend/internal/store"
)

type Config struct {
	LowStockThreshold int
	DocumentTTL       time.Duration
	CachePrefix       string
}

type Service struct {
	repo     store.Repository
	docs     *invoicedoc.Renderer
	cache    cache.DocumentCache
	metrics  *metrics.Recorder
	log      *zap.Logger
	validate *validator.Validate
	cfg      Config
}

func New(repo store.Repository, docs *invoicedoc.Renderer, documentCache cache.DocumentCache, recorder *metrics.Recorder, log *zap.Logger, cfg Config) *Service {
	if docs == nil {
		docs = invoicedoc.NewRenderer(invoicedoc.Shop{})
	}
	if documentCache == nil {
		documentCache = cache.NoopDocumentCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = 10
	}
	if cfg.DocumentTTL <= 0 {
		cfg.DocumentTTL = 24 * time.Hour
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "maktab"
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Service{
		repo:     repo,
		docs:     docs,
		cache:    documentCache,
		metrics:  recorder,
		log:      log.With(zap.String("backend", repo.Backend())),
		validate: validate,
		cfg:      cfg,
	}
}

func (s *Service) Backend() string { return s.repo.Backend() }

// check runs struct validation and reports the first failing field as a
// domain validation error.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &domain.ValidationError{Field: fe.Field(), Reason: describeTag(fe)}
	}
	return &domain.ValidationError{Reason: err.Error()}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}
