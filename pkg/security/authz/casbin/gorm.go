package casbin

import (
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"

	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

// LoadModel accepts either a path to a model file or the model text itself.
// An empty string selects DefaultModel.
func LoadModel(pathOrText string) (model.Model, error) {
	if strings.TrimSpace(pathOrText) == "" {
		pathOrText = DefaultModel
	}

	var (
		m   model.Model
		err error
	)
	if strings.Contains(pathOrText, "[request_definition]") {
		m, err = model.NewModelFromString(pathOrText)
	} else {
		m, err = model.NewModelFromFile(pathOrText)
	}
	if err != nil {
		return nil, errors.ErrConfig.WithMessage("invalid casbin model").WithCause(err)
	}
	return m, nil
}

// NewGormEnforcer creates a Casbin enforcer backed by the GORM adapter and
// loads the stored policy. The adapter creates the casbin_rule table if it
// does not exist.
func NewGormEnforcer(db *gorm.DB, modelPathOrText string) (*casbin.Enforcer, error) {
	if db == nil {
		return nil, errors.ErrInvalidParam.WithMessage("db is required")
	}

	m, err := LoadModel(modelPathOrText)
	if err != nil {
		return nil, err
	}

	a, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, errors.ErrDatabase.WithMessage("failed to create gorm adapter").WithCause(err)
	}

	e, err := casbin.NewEnforcer(m, a)
	if err != nil {
		return nil, errors.ErrInternal.WithMessage("failed to create enforcer").WithCause(err)
	}

	if err := e.LoadPolicy(); err != nil {
		return nil, errors.ErrDatabase.WithMessage("failed to load policies").WithCause(err)
	}

	return e, nil
}

// NewServiceWithGorm creates a Service whose policy lives in db.
func NewServiceWithGorm(db *gorm.DB, modelPathOrText string, opts ...Option) (*Service, error) {
	e, err := NewGormEnforcer(db, modelPathOrText)
	if err != nil {
		return nil, err
	}
	return NewService(e, opts...)
}
