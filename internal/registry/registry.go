// Package registry manages ActionDefinitions and the trigger mappings that
// bind them to tasks, questions and stages.
package registry

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"

	"github.com/soochol/stagecond/internal/repository"
	"github.com/soochol/stagecond/internal/stagecond"
	"github.com/soochol/stagecond/internal/stagecond/ports"
)

// Options carries the optional collaborators of a Service.
type Options struct {
	Namer   ports.TriggerSourceNamer
	Cleaner ports.ActionReferenceCleaner
	Logger  *slog.Logger
	// CacheTTL bounds how long a definition read may be served from the
	// local cache. Zero means DefaultCacheTTL.
	CacheTTL time.Duration
}

// DefaultCacheTTL keeps definitions edited on another replica from being
// served stale for long.
const DefaultCacheTTL = 30 * time.Second

// Service is the Action Registry.
type Service struct {
	defs     repository.ActionDefinitionRepository
	mappings repository.TriggerMappingRepository
	namer    ports.TriggerSourceNamer
	cleaner  ports.ActionReferenceCleaner
	logger   *slog.Logger
	validate *validator.Validate
	cache    *cache.Cache
	now      func() time.Time

	// mappingMu serializes the lookup+insert of mapping creation.
	mappingMu sync.Mutex
}

func New(defs repository.ActionDefinitionRepository, mappings repository.TriggerMappingRepository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		defs:     defs,
		mappings: mappings,
		namer:    opts.Namer,
		cleaner:  opts.Cleaner,
		logger:   logger,
		validate: NewValidator(),
		cache:    cache.New(ttl, 2*ttl),
		now:      time.Now,
	}
}

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CheckStruct runs struct validation and converts the first failure into a
// *stagecond.ValidationError.
func CheckStruct(v *validator.Validate, in any) error {
	err := v.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return stagecond.Invalid(fe.Field(), "is required")
	case "max":
		return stagecond.Invalid(fe.Field(), "must be at most %s characters", fe.Param())
	case "gte":
		return stagecond.Invalid(fe.Field(), "must be >= %s", fe.Param())
	case "oneof":
		return stagecond.Invalid(fe.Field(), "must be one of %s", fe.Param())
	}
	return stagecond.Invalid(fe.Field(), "failed %q check", fe.Tag())
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return stagecond.NotFound(kind, id)
	}
	return err
}
