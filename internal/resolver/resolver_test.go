package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

// -- Mocks --

type MockExpander struct {
	mock.Mock
}

func (m *MockExpander) ExpandDefaults(ctx context.Context, props *runcontext.Context) ([]Candidate, error) {
	args := m.Called(ctx, props)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Candidate), args.Error(1)
}

type MockMapper struct {
	mock.Mock
}

func (m *MockMapper) MapProperties(ctx context.Context, props *runcontext.Context, value any) (map[string]any, error) {
	args := m.Called(ctx, props, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func newVersionResolver(exp DefaultValueExpander, mapper PropertyMapper) *Resolver {
	return &Resolver{
		Property:       "applicationVersionId",
		Expander:       exp,
		Mapper:         mapper,
		UseForDefaults: true,
	}
}

// -- Test Cases --

func TestResolve_SuppliedValueShortCircuits(t *testing.T) {
	ctx := context.Background()
	exp := new(MockExpander)
	mapper := new(MockMapper)
	mapper.On("MapProperties", ctx, mock.Anything, "42").
		Return(map[string]any{"projectName": "Alpha"}, nil).Once()

	initial := runcontext.New(map[string]any{"applicationVersionId": "42"})
	b := runcontext.NewBranch(initial)

	out, err := newVersionResolver(exp, mapper).Resolve(ctx, b)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Same(t, initial, out[0].Context, "the input context must be returned, not a copy")
	assert.Equal(t, "Alpha", initial.GetString("projectName"), "mapped properties are added in place")

	exp.AssertNotCalled(t, "ExpandDefaults", mock.Anything, mock.Anything)
	mapper.AssertNumberOfCalls(t, "MapProperties", 1)
}

func TestResolve_ExpandsDefaults(t *testing.T) {
	ctx := context.Background()
	exp := new(MockExpander)
	mapper := new(MockMapper)
	exp.On("ExpandDefaults", ctx, mock.Anything).Return([]Candidate{
		{Value: "42", Properties: map[string]any{"projectName": "Alpha"}},
		{Value: "43", Properties: map[string]any{"projectName": "Beta"}},
	}, nil).Once()

	initial := runcontext.New(map[string]any{"applicationVersionId": "", "user": "bob"})
	r := newVersionResolver(exp, mapper)

	out, err := r.Resolve(ctx, runcontext.NewBranch(initial))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "42", out[0].Context.GetString("applicationVersionId"))
	assert.Equal(t, "Alpha", out[0].Context.GetString("projectName"))
	assert.Equal(t, "43", out[1].Context.GetString("applicationVersionId"))
	assert.Equal(t, "Beta", out[1].Context.GetString("projectName"))
	for _, b := range out {
		assert.True(t, b.GeneratedBy(r.ID()))
		assert.Equal(t, "bob", b.Context.GetString("user"))
		assert.NotSame(t, initial, b.Context)
	}

	// Parent untouched.
	assert.True(t, initial.IsBlank("applicationVersionId"))
	assert.False(t, initial.Has("projectName"))

	// The mapper must not run again for branches this resolver generated.
	require.NoError(t, r.Update(ctx, out[0]))
	mapper.AssertNotCalled(t, "MapProperties", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_NoCandidatesPrunesBranch(t *testing.T) {
	exp := new(MockExpander)
	exp.On("ExpandDefaults", mock.Anything, mock.Anything).Return([]Candidate{}, nil)

	out, err := newVersionResolver(exp, nil).Resolve(context.Background(), runcontext.NewBranch(runcontext.New(nil)))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestResolve_LookupFailureIsRemoteLookupError(t *testing.T) {
	exp := new(MockExpander)
	exp.On("ExpandDefaults", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	_, err := newVersionResolver(exp, nil).Resolve(context.Background(), runcontext.NewBranch(runcontext.New(nil)))
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindRemoteLookup))
}

func TestResolve_DisabledResolver(t *testing.T) {
	exp := new(MockExpander)

	t.Run("should pass through when optional", func(t *testing.T) {
		r := &Resolver{Property: "workItemType", Expander: exp}
		in := runcontext.NewBranch(runcontext.New(nil))
		out, err := r.Resolve(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Same(t, in.Context, out[0].Context)
	})

	t.Run("should fail with configuration error when required", func(t *testing.T) {
		r := &Resolver{Property: "workItemType", Required: true}
		_, err := r.Resolve(context.Background(), runcontext.NewBranch(runcontext.New(nil)))
		assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))
	})

	exp.AssertNotCalled(t, "ExpandDefaults", mock.Anything, mock.Anything)
}

func TestUpdate_IsIdempotent(t *testing.T) {
	calls := 0
	mapper := MapperFunc(func(_ context.Context, _ *runcontext.Context, value any) (map[string]any, error) {
		calls++
		return map[string]any{"projectName": "P-" + value.(string)}, nil
	})
	r := &Resolver{Property: "applicationVersionId", Mapper: mapper}
	b := runcontext.NewBranch(runcontext.New(map[string]any{"applicationVersionId": "7"}))

	require.NoError(t, r.Update(context.Background(), b))
	first := b.Context.Values()
	require.NoError(t, r.Update(context.Background(), b))

	assert.Equal(t, first, b.Context.Values())
	assert.Equal(t, 2, calls)
}

func TestStaticHelpers(t *testing.T) {
	table := map[string]map[string]any{"Bug": {"tfs.area": "Security"}}

	cands, err := StaticExpander{Values: []string{"Bug", "Task"}, Table: table}.ExpandDefaults(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "Security", cands[0].Properties["tfs.area"])
	assert.Nil(t, cands[1].Properties)

	props, err := StaticMapper{Table: table}.MapProperties(context.Background(), nil, "Bug")
	require.NoError(t, err)
	props["tfs.area"] = "changed"
	assert.Equal(t, "Security", table["Bug"]["tfs.area"], "returned maps must be copies")
}
