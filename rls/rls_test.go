package rls_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ESGI-M2/docuorm/rls"
)

func TestDisabledPolicySetAlwaysPasses(t *testing.T) {
	ps := rls.PolicySet{Table: "docs", Enabled: false}
	ok := rls.Evaluate(context.Background(), ps, rls.OpSelect, map[string]any{}, nil, false)
	assert.True(t, ok)
}

func TestSkipContextBypassesRLS(t *testing.T) {
	ps := rls.PolicySet{
		Table:   "docs",
		Enabled: true,
		Policies: []rls.Policy{{
			Name:  "deny-all",
			As:    rls.Permissive,
			Using: func(ctx context.Context, row map[string]any) bool { return false },
		}},
	}
	ctx := rls.WithSkip(context.Background())
	assert.True(t, rls.SkipFromContext(ctx))
	ok := rls.Evaluate(ctx, ps, rls.OpSelect, map[string]any{}, nil, rls.SkipFromContext(ctx))
	assert.True(t, ok)
}

func TestNoApplicablePolicyFailsClosed(t *testing.T) {
	ps := rls.PolicySet{Table: "docs", Enabled: true, Policies: nil}
	ok := rls.Evaluate(context.Background(), ps, rls.OpSelect, map[string]any{}, nil, false)
	assert.False(t, ok)
}

func TestPermissivePassIsVacuousWhenNonePermissiveApply(t *testing.T) {
	ps := rls.PolicySet{
		Table:   "docs",
		Enabled: true,
		Policies: []rls.Policy{{
			Name:  "restrict-all",
			As:    rls.Restrictive,
			For:   []rls.Op{rls.OpSelect},
			Using: func(ctx context.Context, row map[string]any) bool { return true },
		}},
	}
	ok := rls.Evaluate(context.Background(), ps, rls.OpSelect, map[string]any{}, nil, false)
	assert.True(t, ok)
}

func TestRestrictiveMustAllPass(t *testing.T) {
	ps := rls.PolicySet{
		Table:   "docs",
		Enabled: true,
		Policies: []rls.Policy{
			{Name: "perm", As: rls.Permissive, Using: func(ctx context.Context, row map[string]any) bool { return true }},
			{Name: "r1", As: rls.Restrictive, Using: func(ctx context.Context, row map[string]any) bool { return true }},
			{Name: "r2", As: rls.Restrictive, Using: func(ctx context.Context, row map[string]any) bool { return false }},
		},
	}
	ok := rls.Evaluate(context.Background(), ps, rls.OpSelect, map[string]any{}, nil, false)
	assert.False(t, ok)
}

func TestRoleScopedPolicyIgnoredForOtherRoles(t *testing.T) {
	ps := rls.PolicySet{
		Table:   "docs",
		Enabled: true,
		Policies: []rls.Policy{{
			Name:  "admin-only",
			As:    rls.Permissive,
			Roles: []string{"admin"},
			Using: func(ctx context.Context, row map[string]any) bool { return true },
		}},
	}
	resolve := func(ctx context.Context) []string { return []string{"guest"} }
	ok := rls.Evaluate(context.Background(), ps, rls.OpSelect, map[string]any{}, resolve, false)
	assert.False(t, ok)

	resolveAdmin := func(ctx context.Context) []string { return []string{"admin"} }
	ok = rls.Evaluate(context.Background(), ps, rls.OpSelect, map[string]any{}, resolveAdmin, false)
	assert.True(t, ok)
}

func TestEvaluateUpdateUsingFailureIsSilentSkip(t *testing.T) {
	ps := rls.PolicySet{
		Table:   "docs",
		Enabled: true,
		Policies: []rls.Policy{{
			Name:      "owner-only",
			As:        rls.Permissive,
			Using:     func(ctx context.Context, row map[string]any) bool { return false },
			WithCheck: func(ctx context.Context, row map[string]any) bool { return true },
		}},
	}
	skip, err := rls.EvaluateUpdate(context.Background(), ps, map[string]any{}, map[string]any{}, nil, false)
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestEvaluateUpdateWithCheckFailureDenies(t *testing.T) {
	ps := rls.PolicySet{
		Table:   "docs",
		Enabled: true,
		Policies: []rls.Policy{{
			Name:      "owner-only",
			As:        rls.Permissive,
			Using:     func(ctx context.Context, row map[string]any) bool { return true },
			WithCheck: func(ctx context.Context, row map[string]any) bool { return false },
		}},
	}
	skip, err := rls.EvaluateUpdate(context.Background(), ps, map[string]any{}, map[string]any{}, nil, false)
	assert.False(t, skip)
	require.Error(t, err)
	var denial *rls.DenialError
	assert.ErrorAs(t, err, &denial)
}
