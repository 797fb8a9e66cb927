package services

import (
	"context"
	"errors"
	"time"

	"github.com/GrainArc/GeoVersion/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options 各服务共享的依赖，通过构造函数注入
type Options struct {
	DB      *gorm.DB
	Logger  *zap.Logger
	Clock   func() time.Time
	NewID   func() string
	Emitter events.Emitter
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	if o.Emitter == nil {
		o.Emitter = events.NopEmitter{}
	}
	return o
}

// Services 版本管理的全部服务
type Services struct {
	Datasets      *DatasetService
	Branches      *BranchService
	Features      *FeatureService
	MergeRequests *MergeRequestService
	Conflicts     *ConflictService
}

func New(opts Options) *Services {
	opts = opts.withDefaults()
	tracker := NewChangeTracker(opts.Logger)
	engine := NewMergeEngine(opts.NewID, opts.Logger)
	return &Services{
		Datasets:      NewDatasetService(opts),
		Branches:      NewBranchService(opts, tracker),
		Features:      NewFeatureService(opts),
		MergeRequests: NewMergeRequestService(opts, tracker, engine),
		Conflicts:     NewConflictService(opts),
	}
}

// first 按条件查询单条记录，未找到时返回 NotFound
func first(ctx context.Context, db *gorm.DB, dest interface{}, what string, conds ...interface{}) error {
	err := db.WithContext(ctx).Where(conds[0], conds[1:]...).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("%s not found", what)
	}
	return err
}
