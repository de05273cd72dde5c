package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-gateway/backend/internal/policy/domain"
)

type fakeRepo struct {
	policies []*domain.Policy
	err      error
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	for _, p := range f.policies {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListEnabled(ctx context.Context) ([]*domain.Policy, error) {
	return f.policies, f.err
}

func (f *fakeRepo) Create(ctx context.Context, p *domain.Policy) error {
	f.policies = append(f.policies, p)
	return nil
}

func (f *fakeRepo) Update(ctx context.Context, p *domain.Policy) error { return nil }

var _ Authorizer = (*OPAEvaluator)(nil)

func input(role, tenant, action string, perms ...string) domain.Input {
	return domain.Input{
		Subject: SubjectFromClaims("user-1", tenant, role, perms),
		Action:  action,
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		in    domain.Input
		allow bool
	}{
		{"admin allowed", input("admin", "t1", "security:read"), true},
		{"permission allowed", input("analyst", "t1", "security:read", "security:read"), true},
		{"missing permission denied", input("analyst", "t1", "security:read", "orders:read"), false},
		{"no permissions denied", input("customer", "t1", "security:read"), false},
		{
			"tenant mismatch denied",
			domain.Input{Subject: SubjectFromClaims("user-1", "t1", "analyst", []string{"orders:read"}), Action: "orders:read", Resource: domain.Resource{TenantID: "t2"}},
			false,
		},
		{
			"same tenant allowed",
			domain.Input{Subject: SubjectFromClaims("user-1", "t1", "analyst", []string{"orders:read"}), Action: "orders:read", Resource: domain.Resource{TenantID: "t1"}},
			true,
		},
		{
			"self revoke allowed",
			domain.Input{Subject: SubjectFromClaims("user-1", "t1", "customer", nil), Action: "tokens:revoke", Resource: domain.Resource{OwnerID: "user-1"}},
			true,
		},
		{
			"revoke other user denied",
			domain.Input{Subject: SubjectFromClaims("user-1", "t1", "customer", nil), Action: "tokens:revoke", Resource: domain.Resource{OwnerID: "user-2"}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.Authorize(ctx, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.allow, d.Allowed, d.Reason)
		})
	}
}

const denyContractors = `package gateway.authz

deny if {
	input.subject.role == "contractor"
}
`

const grantAuditors = `package gateway.authz

allow if {
	input.subject.role == "auditor"
	input.action == "security:read"
}
`

func TestOPAEvaluator_StoredPolicies(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{policies: []*domain.Policy{
		{ID: "p1", Name: "deny contractors", Rules: denyContractors, Enabled: true},
		{ID: "p2", Name: "auditors", Rules: grantAuditors, Enabled: true},
	}}
	e, err := NewOPAEvaluator(ctx, repo, nil)
	require.NoError(t, err)

	d, err := e.Authorize(ctx, input("contractor", "t1", "orders:read", "orders:read"))
	require.NoError(t, err)
	assert.False(t, d.Allowed, "deny rule overrides permission grant")

	d, err = e.Authorize(ctx, input("auditor", "t1", "security:read"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestOPAEvaluator_BrokenPolicySkipped(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{policies: []*domain.Policy{
		{ID: "bad", Rules: "package gateway.authz\nallow if {", Enabled: true},
		{ID: "good", Rules: grantAuditors, Enabled: true},
	}}
	e, err := NewOPAEvaluator(ctx, repo, nil)
	require.NoError(t, err)

	d, err := e.Authorize(ctx, input("auditor", "t1", "security:read"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	require.NoError(t, e.HealthCheck(ctx))
}

func TestOPAEvaluator_RepoErrorFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, &fakeRepo{err: errors.New("db down")}, nil)
	require.NoError(t, err)

	d, err := e.Authorize(ctx, input("admin", "", "anything"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestOPAEvaluator_Reload(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{}
	e, err := NewOPAEvaluator(ctx, repo, nil)
	require.NoError(t, err)

	d, _ := e.Authorize(ctx, input("auditor", "t1", "security:read"))
	assert.False(t, d.Allowed)

	require.NoError(t, repo.Create(ctx, &domain.Policy{ID: "p2", Rules: grantAuditors, Enabled: true}))
	require.NoError(t, e.Reload(ctx))

	d, _ = e.Authorize(ctx, input("auditor", "t1", "security:read"))
	assert.True(t, d.Allowed)
}

func TestOPAEvaluator_CancelledContextDenies(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err := e.Authorize(ctx, input("admin", "", "security:read"))
	if err != nil {
		assert.False(t, d.Allowed)
	}
}
