package approval

import (
	"context"
	"errors"
	"testing"

	"github.com/calyxhq/expenseflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRuleSource struct {
	rules []*models.ApprovalRule
	err   error
}

func (f *fakeRuleSource) ActiveRules(ctx context.Context, companyID int64) ([]*models.ApprovalRule, error) {
	return f.rules, f.err
}

type fakeDirectory struct {
	users  map[int64]*models.User
	byRole map[models.Role][]*models.User
	err    error
}

func (f *fakeDirectory) GetByID(ctx context.Context, id int64) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[id], nil
}

func (f *fakeDirectory) ActiveByRole(ctx context.Context, companyID int64, role models.Role) ([]*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byRole[role], nil
}

func int64Ptr(v int64) *int64 { return &v }

func testExpense() *models.Expense {
	return &models.Expense{
		ID:                    1,
		CompanyID:             10,
		EmployeeID:            100,
		AmountCompanyCurrency: 500,
		Category:              "Travel",
		Status:                models.ExpensePending,
	}
}

func TestBuildSequentialRule(t *testing.T) {
	rules := &fakeRuleSource{rules: []*models.ApprovalRule{{
		ID:       1,
		Type:     models.RuleTypeSequential,
		IsActive: true,
		Approvers: []models.RuleApprover{
			{UserID: 22, Sequence: 2, IsRequired: false},
			{UserID: 11, Sequence: 1, IsRequired: true},
		},
	}}}
	b := NewSequenceBuilder(rules, &fakeDirectory{}, zap.NewNop())

	steps, err := b.Build(context.Background(), testExpense())
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, int64(11), *steps[0].ApproverID, "steps ordered by configured sequence")
	assert.Equal(t, 1, steps[0].Sequence)
	assert.True(t, steps[0].IsRequired)
	assert.Equal(t, int64(22), *steps[1].ApproverID)
	assert.Equal(t, 2, steps[1].Sequence)
	assert.False(t, steps[1].IsRequired)
	assert.Equal(t, int64(11), *CurrentApprover(steps))
}

func TestBuildSpecificApproverRule(t *testing.T) {
	rules := &fakeRuleSource{rules: []*models.ApprovalRule{{
		ID:       1,
		Type:     models.RuleTypeSpecificApprover,
		IsActive: true,
		Approvers: []models.RuleApprover{
			{UserID: 11},
			{UserID: 22},
		},
	}}}
	b := NewSequenceBuilder(rules, &fakeDirectory{}, zap.NewNop())

	steps, err := b.Build(context.Background(), testExpense())
	require.NoError(t, err)
	require.Len(t, steps, 2)

	for i, s := range steps {
		assert.True(t, s.IsRequired, "specific approver steps are always required")
		assert.Equal(t, i+1, s.Sequence)
	}
}

func TestBuildPercentageRule(t *testing.T) {
	rules := &fakeRuleSource{rules: []*models.ApprovalRule{{
		ID:         1,
		Type:       models.RuleTypePercentage,
		Percentage: 60,
		IsActive:   true,
	}}}
	b := NewSequenceBuilder(rules, &fakeDirectory{}, zap.NewNop())

	steps, err := b.Build(context.Background(), testExpense())
	require.NoError(t, err)
	require.Len(t, steps, 1)

	assert.Nil(t, steps[0].ApproverID, "percentage step has no fixed approver")
	assert.Equal(t, 60, steps[0].Percentage)
	assert.Nil(t, CurrentApprover(steps), "dynamic first step leaves current approver unresolved")
}

func TestBuildHybridRule(t *testing.T) {
	rules := &fakeRuleSource{rules: []*models.ApprovalRule{{
		ID:         1,
		Type:       models.RuleTypeHybrid,
		Percentage: 75,
		IsActive:   true,
		Approvers:  []models.RuleApprover{{UserID: 11}},
	}}}
	b := NewSequenceBuilder(rules, &fakeDirectory{}, zap.NewNop())

	steps, err := b.Build(context.Background(), testExpense())
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, int64(11), *steps[0].ApproverID)
	assert.True(t, steps[0].IsRequired)
	assert.Nil(t, steps[1].ApproverID, "hybrid ends with a dynamic percentage step")
	assert.Equal(t, 75, steps[1].Percentage)
	assert.Equal(t, 2, steps[1].Sequence)
}

func TestBuildDefaultSequenceFallbackChain(t *testing.T) {
	tests := []struct {
		name      string
		directory *fakeDirectory
		want      *int64 // nil = empty sequence
	}{
		{
			name: "direct manager flagged as approver",
			directory: &fakeDirectory{users: map[int64]*models.User{
				100: {ID: 100, ManagerID: int64Ptr(200)},
				200: {ID: 200, Role: models.RoleManager, IsActive: true, IsManagerApprover: true},
			}},
			want: int64Ptr(200),
		},
		{
			name: "manager not flagged, any active manager",
			directory: &fakeDirectory{
				users: map[int64]*models.User{
					100: {ID: 100, ManagerID: int64Ptr(200)},
					200: {ID: 200, Role: models.RoleManager, IsActive: true, IsManagerApprover: false},
				},
				byRole: map[models.Role][]*models.User{
					models.RoleManager: {{ID: 300, Role: models.RoleManager, IsActive: true}},
				},
			},
			want: int64Ptr(300),
		},
		{
			name: "no managers, any active admin",
			directory: &fakeDirectory{
				users: map[int64]*models.User{100: {ID: 100}},
				byRole: map[models.Role][]*models.User{
					models.RoleAdmin: {{ID: 400, Role: models.RoleAdmin, IsActive: true}},
				},
			},
			want: int64Ptr(400),
		},
		{
			name:      "nobody available",
			directory: &fakeDirectory{users: map[int64]*models.User{100: {ID: 100}}},
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewSequenceBuilder(&fakeRuleSource{}, tt.directory, zap.NewNop())
			steps, err := b.Build(context.Background(), testExpense())
			require.NoError(t, err)

			if tt.want == nil {
				assert.Empty(t, steps)
				return
			}
			require.Len(t, steps, 1)
			assert.Equal(t, *tt.want, *steps[0].ApproverID)
			assert.True(t, steps[0].IsRequired)
		})
	}
}

func TestBuildRuleLookupFailureFallsBack(t *testing.T) {
	rules := &fakeRuleSource{err: errors.New("datastore unavailable")}
	directory := &fakeDirectory{
		users: map[int64]*models.User{
			100: {ID: 100, ManagerID: int64Ptr(200)},
			200: {ID: 200, Role: models.RoleManager, IsActive: true, IsManagerApprover: true},
		},
	}
	b := NewSequenceBuilder(rules, directory, zap.NewNop())

	steps, err := b.Build(context.Background(), testExpense())
	require.NoError(t, err, "rule lookup failure degrades to the default sequence")
	require.Len(t, steps, 1)
	assert.Equal(t, int64(200), *steps[0].ApproverID)
}

func TestBuildDirectoryFailurePropagates(t *testing.T) {
	directory := &fakeDirectory{err: errors.New("directory down")}
	b := NewSequenceBuilder(&fakeRuleSource{}, directory, zap.NewNop())

	_, err := b.Build(context.Background(), testExpense())
	assert.Error(t, err)
}
