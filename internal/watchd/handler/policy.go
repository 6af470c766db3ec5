// Package handler serves the policy engine over HTTP.
package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/policy-watcher/pkg/security/authz/casbin"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
	"github.com/kart-io/policy-watcher/pkg/utils/response"
	"github.com/kart-io/policy-watcher/pkg/utils/validator"
)

// PolicyHandler handles policy and decision requests.
type PolicyHandler struct {
	svc casbin.PermissionService
}

// NewPolicyHandler creates a new PolicyHandler.
func NewPolicyHandler(svc casbin.PermissionService) *PolicyHandler {
	return &PolicyHandler{svc: svc}
}

// EnforceRequest is the query of an authorization check.
type EnforceRequest struct {
	Sub string `form:"sub" json:"sub" validate:"required"`
	Obj string `form:"obj" json:"obj" validate:"required"`
	Act string `form:"act" json:"act" validate:"required"`
}

// EnforceResponse reports a decision.
type EnforceResponse struct {
	Allowed bool `json:"allowed"`
}

// PolicyRequest carries a single rule or a batch. PType defaults to "p".
type PolicyRequest struct {
	PType string     `json:"ptype" validate:"omitempty,ptype"`
	Rule  []string   `json:"rule" validate:"omitempty,dive,required"`
	Rules [][]string `json:"rules" validate:"omitempty,dive,min=1,dive,required"`
}

// FilterRequest removes every rule matching FieldValues from FieldIndex on.
type FilterRequest struct {
	PType       string   `json:"ptype" validate:"omitempty,ptype"`
	FieldIndex  int      `json:"field_index" validate:"gte=0"`
	FieldValues []string `json:"field_values" validate:"required,min=1"`
}

// ChangeResponse reports whether a mutation changed the rule set.
type ChangeResponse struct {
	Changed bool `json:"changed"`
}

// PoliciesResponse lists rules, each prefixed with its ptype.
type PoliciesResponse struct {
	Rules [][]string `json:"rules"`
}

// Enforce handles GET /v1/enforce.
func (h *PolicyHandler) Enforce(c *gin.Context) {
	var req EnforceRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Write(c, errors.ErrInvalidParam.WithMessage(err.Error()), nil)
		return
	}
	if err := validator.StructLang(&req, validator.LanguageFromHeader(c.GetHeader("Accept-Language"))); err != nil {
		response.Write(c, err, nil)
		return
	}

	allowed, err := h.svc.Enforce(req.Sub, req.Obj, req.Act)
	if err != nil {
		response.Write(c, err, nil)
		return
	}
	response.Write(c, nil, EnforceResponse{Allowed: allowed})
}

// List handles GET /v1/policies.
func (h *PolicyHandler) List(c *gin.Context) {
	rules, err := h.svc.Policies()
	if err != nil {
		response.Write(c, err, nil)
		return
	}
	response.Write(c, nil, PoliciesResponse{Rules: rules})
}

// Add handles POST /v1/policies.
func (h *PolicyHandler) Add(c *gin.Context) {
	req, err := bindPolicy(c)
	if err != nil {
		response.Write(c, err, nil)
		return
	}

	var changed bool
	if len(req.Rules) > 0 {
		changed, err = h.svc.AddPolicies(c.Request.Context(), req.PType, req.Rules)
	} else {
		changed, err = h.svc.AddPolicy(c.Request.Context(), req.PType, req.Rule...)
	}
	if err != nil {
		response.Write(c, err, nil)
		return
	}
	response.Write(c, nil, ChangeResponse{Changed: changed})
}

// Remove handles DELETE /v1/policies.
func (h *PolicyHandler) Remove(c *gin.Context) {
	req, err := bindPolicy(c)
	if err != nil {
		response.Write(c, err, nil)
		return
	}

	var changed bool
	if len(req.Rules) > 0 {
		changed, err = h.svc.RemovePolicies(c.Request.Context(), req.PType, req.Rules)
	} else {
		changed, err = h.svc.RemovePolicy(c.Request.Context(), req.PType, req.Rule...)
	}
	if err != nil {
		response.Write(c, err, nil)
		return
	}
	response.Write(c, nil, ChangeResponse{Changed: changed})
}

// RemoveFiltered handles POST /v1/policies/filter-delete.
func (h *PolicyHandler) RemoveFiltered(c *gin.Context) {
	var req FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Write(c, errors.ErrInvalidParam.WithMessage(err.Error()), nil)
		return
	}
	if err := validator.StructLang(&req, validator.LanguageFromHeader(c.GetHeader("Accept-Language"))); err != nil {
		response.Write(c, err, nil)
		return
	}
	if req.PType == "" {
		req.PType = "p"
	}

	changed, err := h.svc.RemoveFilteredPolicy(c.Request.Context(), req.PType, req.FieldIndex, req.FieldValues...)
	if err != nil {
		response.Write(c, err, nil)
		return
	}
	response.Write(c, nil, ChangeResponse{Changed: changed})
}

// Save handles POST /v1/policies/save.
func (h *PolicyHandler) Save(c *gin.Context) {
	response.Write(c, h.svc.SavePolicy(c.Request.Context()), nil)
}

// Reload handles POST /v1/policies/reload.
func (h *PolicyHandler) Reload(c *gin.Context) {
	response.Write(c, h.svc.LoadPolicy(), nil)
}

// Clear handles POST /v1/policies/clear.
func (h *PolicyHandler) Clear(c *gin.Context) {
	h.svc.ClearPolicy(c.Request.Context())
	response.Write(c, nil, nil)
}

// ClearCache handles POST /v1/cache/clear.
func (h *PolicyHandler) ClearCache(c *gin.Context) {
	h.svc.ClearCache(c.Request.Context())
	response.Write(c, nil, nil)
}

func bindPolicy(c *gin.Context) (*PolicyRequest, error) {
	var req PolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, errors.ErrInvalidParam.WithMessage(err.Error())
	}
	if err := validator.StructLang(&req, validator.LanguageFromHeader(c.GetHeader("Accept-Language"))); err != nil {
		return nil, err
	}
	if len(req.Rule) == 0 && len(req.Rules) == 0 {
		return nil, errors.ErrInvalidParam.WithMessage("rule or rules is required")
	}
	if len(req.Rule) > 0 && len(req.Rules) > 0 {
		return nil, errors.ErrInvalidParam.WithMessage("rule and rules are mutually exclusive")
	}
	if req.PType == "" {
		req.PType = "p"
	}
	return &req, nil
}
