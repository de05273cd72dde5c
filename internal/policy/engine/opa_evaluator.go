package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"security-gateway/backend/internal/logging"
	"security-gateway/backend/internal/policy/domain"
	"security-gateway/backend/internal/policy/repository"
)

const decisionQuery = "data.gateway.authz.allowed"

// DefaultRegoPolicy grants admins everything, grants listed permissions within the subject's
// tenant, and lets a subject revoke its own tokens. Extra modules may add allow or deny rules.
const DefaultRegoPolicy = `package gateway.authz

default allow := false

default deny := false

allowed if {
	allow
	not deny
}

allow if {
	input.subject.role == "admin"
}

allow if {
	some p in input.subject.permissions
	p == input.action
	same_tenant
}

allow if {
	input.action == "tokens:revoke"
	input.resource.owner_id != ""
	input.resource.owner_id == input.subject.user_id
}

same_tenant if {
	input.resource.tenant_id == ""
}

same_tenant if {
	input.resource.tenant_id == input.subject.tenant_id
}
`

// OPAEvaluator authorizes requests with an in-process OPA Rego engine. The compiled query is
// prepared once and swapped atomically on Reload.
type OPAEvaluator struct {
	repo   repository.Repository
	logger *zap.Logger

	mu    sync.RWMutex
	query *rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles the default policy plus any enabled policies from repo (which may be
// nil). A broken stored policy is logged and skipped; the default policy must compile.
func NewOPAEvaluator(ctx context.Context, repo repository.Repository, logger *zap.Logger) (*OPAEvaluator, error) {
	e := &OPAEvaluator{repo: repo, logger: logging.WithComponent(logger, "policy")}
	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload recompiles the policy set. On failure the previously prepared query stays in place.
func (e *OPAEvaluator) Reload(ctx context.Context) error {
	modules := map[string]string{"default.rego": DefaultRegoPolicy}
	if e.repo != nil {
		policies, err := e.repo.ListEnabled(ctx)
		if err != nil {
			e.logger.Warn("load stored policies failed; using default policy only", zap.Error(err))
		}
		for _, p := range policies {
			if !p.Enabled || p.Rules == "" {
				continue
			}
			candidate := map[string]string{"default.rego": DefaultRegoPolicy, p.ID + ".rego": p.Rules}
			if _, err := ast.CompileModules(candidate); err != nil {
				e.logger.Warn("skip policy that does not compile", zap.String("policy_id", p.ID), zap.Error(err))
				continue
			}
			modules[p.ID+".rego"] = p.Rules
		}
	}
	prepared, err := prepare(ctx, modules)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.query = prepared
	e.mu.Unlock()
	return nil
}

func prepare(ctx context.Context, modules map[string]string) (*rego.PreparedEvalQuery, error) {
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}
	pq, err := rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy query: %w", err)
	}
	return &pq, nil
}

// Authorize evaluates in against the current policy set.
func (e *OPAEvaluator) Authorize(ctx context.Context, in domain.Input) (domain.Decision, error) {
	e.mu.RLock()
	pq := e.query
	e.mu.RUnlock()

	doc, err := toDocument(in)
	if err != nil {
		return domain.Decision{Reason: "invalid policy input"}, err
	}
	rs, err := pq.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		e.logger.Error("policy evaluation failed; denying", zap.String("action", in.Action), zap.Error(err))
		return domain.Decision{Reason: "policy evaluation failed"}, err
	}
	if rs.Allowed() {
		return domain.Decision{Allowed: true, Reason: "allowed by policy"}, nil
	}
	return domain.Decision{Reason: "denied by policy"}, nil
}

// toDocument round-trips in through JSON so the policy sees the json tag names.
func toDocument(in domain.Input) (map[string]any, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// HealthCheck evaluates a fixed admin input; it fails when the engine cannot decide.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	d, err := e.Authorize(ctx, domain.Input{
		Subject: domain.Subject{Role: "admin", Permissions: []string{}},
		Action:  "health:check",
	})
	if err != nil {
		return fmt.Errorf("eval policy: %w", err)
	}
	if !d.Allowed {
		return fmt.Errorf("policy denied the health probe")
	}
	return nil
}
