package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/carbonledger/internal/audit/domain"
	"github.com/smallbiznis/carbonledger/internal/config"
	"github.com/smallbiznis/carbonledger/pkg/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads persisted policies through the gorm adapter and reconciles
// them with the built-in role table.
func NewEnforcer(adapter *gormadapter.Adapter, cfg config.Config) (*casbin.SyncedEnforcer, error) {
	return NewEnforcerWithOptions(adapter, PolicyOptions{AnalyticsCanEditRates: cfg.AnalyticsCanEditRates})
}

func NewEnforcerWithOptions(adapter *gormadapter.Adapter, opts PolicyOptions) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer, opts); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object, action string) error {
	object = strings.TrimSpace(object)
	action = strings.TrimSpace(action)
	if object == "" || action == "" {
		return ErrInvalidInput
	}
	if _, ok := ParseRole(string(actor.Role)); !ok {
		s.auditDenied(ctx, actor, object, action)
		return errs.Authorization(ErrInvalidActor)
	}

	allowed, err := s.enforcer.Enforce(actor.Role.Subject(), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, object, action)
		return errs.Authorization(ErrForbidden)
	}
	return nil
}

func (s *ServiceImpl) AuthorizeOwner(ctx context.Context, actor Actor, ownerID snowflake.ID) error {
	if actor.UserID != 0 && actor.UserID == ownerID {
		return nil
	}
	if s.Can(actor, ObjectOwnership, ActionOwnershipBypass) {
		return nil
	}
	s.auditDenied(ctx, actor, ObjectOwnership, "ownership.check")
	return errs.Authorization(ErrForbidden)
}

func (s *ServiceImpl) Can(actor Actor, object, action string) bool {
	if _, ok := ParseRole(string(actor.Role)); !ok {
		return false
	}
	allowed, err := s.enforcer.Enforce(actor.Role.Subject(), object, action)
	if err != nil {
		s.log.Warn("policy evaluation failed", zap.String("object", object), zap.String("action", action), zap.Error(err))
		return false
	}
	return allowed
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor Actor, object, action string) {
	s.log.Debug("authorization denied",
		zap.String("role", string(actor.Role)),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	actorID := ""
	if actor.UserID != 0 {
		actorID = actor.UserID.String()
	}
	if err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		ActorType:  string(actor.Role),
		ActorID:    actorID,
		Action:     auditdomain.ActionAuthorizationDenied,
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object": object,
			"action": action,
		},
	}); err != nil {
		s.log.Warn("failed to audit denial", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer, opts PolicyOptions) error {
	for role, perms := range RolePermissions(opts) {
		for _, perm := range perms {
			if _, err := enforcer.AddPolicy(role.Subject(), perm.Object, perm.Action); err != nil {
				return err
			}
		}
	}
	for role, parents := range RoleInheritance() {
		for _, parent := range parents {
			if _, err := enforcer.AddGroupingPolicy(role.Subject(), parent.Subject()); err != nil {
				return err
			}
		}
	}

	// A persisted grant from an earlier deployment must not outlive the flag.
	if !opts.AnalyticsCanEditRates {
		if _, err := enforcer.RemovePolicy(RoleAnalytics.Subject(), analyticsRateEdit.Object, analyticsRateEdit.Action); err != nil {
			return err
		}
	}
	return nil
}
