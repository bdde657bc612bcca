package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/conduit/internal/model"
)

func stripeDefinition() *model.ServiceDefinition {
	return &model.ServiceDefinition{
		ID:         "def-stripe",
		ServiceKey: "stripe",
		Name:       "Stripe",
		Category:   model.CategoryPayments,
		Credentials: []model.CredentialField{
			{
				Key:      "api_key",
				Label:    "API Key",
				Required: true,
				Validation: &model.CredentialRule{
					MinLength: 10,
					MaxLength: 200,
					Pattern:   `^sk_(test|live)_`,
				},
			},
			{
				Key:   "webhook_secret",
				Label: "Webhook Secret",
			},
		},
		Invocation: model.InvocationTemplate{
			Command:    "connector-stripe",
			EnvMapping: map[string]string{"api_key": "STRIPE_API_KEY"},
		},
		IsAvailable: true,
	}
}

func scanStripeDefinition(dest ...any) error {
	def := stripeDefinition()
	now := time.Now().Truncate(time.Microsecond)
	*(dest[0].(*string)) = def.ID
	*(dest[1].(*string)) = def.ServiceKey
	*(dest[2].(*string)) = def.Name
	*(dest[3].(*string)) = def.Description
	*(dest[4].(*model.ServiceCategory)) = def.Category
	*(dest[5].(*[]model.CredentialField)) = def.Credentials
	*(dest[6].(*model.InvocationTemplate)) = def.Invocation
	*(dest[7].(**string)) = nil
	*(dest[8].(*bool)) = def.IsAvailable
	*(dest[9].(*bool)) = def.IsBeta
	*(dest[10].(*time.Time)) = now
	*(dest[11].(*time.Time)) = now
	return nil
}

// ---------- List ----------

func TestCatalogService_List_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewCatalogService(db)
	ctx := context.Background()

	rows := newMockRows(scanStripeDefinition)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	defs, err := svc.List(ctx, CatalogFilters{})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "stripe", defs[0].ServiceKey)
	assert.Equal(t, model.CategoryPayments, defs[0].Category)
	db.AssertExpectations(t)
}

func TestCatalogService_List_FiltersAreANDCombined(t *testing.T) {
	db := &mockDB{}
	svc := NewCatalogService(db)
	ctx := context.Background()

	var capturedSQL string
	var capturedArgs []any
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			capturedSQL = args.String(1)
			capturedArgs = args.Get(2).([]any)
		}).
		Return(newEmptyMockRows(), nil)

	_, err := svc.List(ctx, CatalogFilters{
		Category: model.CategoryPayments,
		Search:   "stri",
	})
	require.NoError(t, err)
	assert.Contains(t, capturedSQL, "category = $1")
	assert.Contains(t, capturedSQL, "ILIKE $2")
	assert.Contains(t, capturedSQL, "is_beta = false")
	assert.Equal(t, []any{model.CategoryPayments, "%stri%"}, capturedArgs)
}

func TestCatalogService_List_IncludeBetaSkipsBetaFilter(t *testing.T) {
	db := &mockDB{}
	svc := NewCatalogService(db)
	ctx := context.Background()

	var capturedSQL string
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { capturedSQL = args.String(1) }).
		Return(newEmptyMockRows(), nil)

	_, err := svc.List(ctx, CatalogFilters{IncludeBeta: true})
	require.NoError(t, err)
	assert.NotContains(t, capturedSQL, "is_beta = false")
}

func TestCatalogService_List_DBError(t *testing.T) {
	db := &mockDB{}
	svc := NewCatalogService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := svc.List(ctx, CatalogFilters{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list service definitions")
}

// ---------- GetByKey ----------

func TestCatalogService_GetByKey_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewCatalogService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: scanStripeDefinition}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	def, err := svc.GetByKey(ctx, "stripe")
	require.NoError(t, err)
	assert.Equal(t, "stripe", def.ServiceKey)
	assert.Equal(t, "connector-stripe", def.Invocation.Command)
	db.AssertExpectations(t)
}

func TestCatalogService_GetByKey_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewCatalogService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(noRowsRow())

	def, err := svc.GetByKey(ctx, "nope")
	require.Error(t, err)
	assert.Nil(t, def)
	assert.ErrorIs(t, err, ErrNotFound)
}

// ---------- ValidateCredentials ----------

func TestValidateCredentials_AllValid(t *testing.T) {
	svc := NewCatalogService(nil)
	def := stripeDefinition()

	violations := svc.ValidateCredentials(def, map[string]string{
		"api_key": "sk_test_abcdef123456",
	})
	assert.Empty(t, violations)
}

func TestValidateCredentials_MissingRequiredField(t *testing.T) {
	svc := NewCatalogService(nil)
	def := stripeDefinition()

	violations := svc.ValidateCredentials(def, map[string]string{})
	require.Len(t, violations, 1)
	assert.Equal(t, "API Key is required", violations[0])
}

func TestValidateCredentials_BlankCountsAsMissing(t *testing.T) {
	svc := NewCatalogService(nil)
	def := stripeDefinition()

	violations := svc.ValidateCredentials(def, map[string]string{"api_key": "   "})
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "required")
}

func TestValidateCredentials_OptionalFieldMayBeOmitted(t *testing.T) {
	svc := NewCatalogService(nil)
	def := stripeDefinition()

	violations := svc.ValidateCredentials(def, map[string]string{
		"api_key": "sk_live_abcdef123456",
	})
	assert.Empty(t, violations)
}

func TestValidateCredentials_AccumulatesAllViolations(t *testing.T) {
	svc := NewCatalogService(nil)
	def := &model.ServiceDefinition{
		ServiceKey: "multi",
		Credentials: []model.CredentialField{
			{Key: "a", Label: "Field A", Required: true},
			{Key: "b", Label: "Field B", Required: true, Validation: &model.CredentialRule{MinLength: 5}},
			{Key: "c", Label: "Field C", Required: true, Validation: &model.CredentialRule{Pattern: `^\d+$`}},
		},
	}

	violations := svc.ValidateCredentials(def, map[string]string{
		"b": "xy",
		"c": "letters",
	})
	require.Len(t, violations, 3)
	assert.Contains(t, violations[0], "Field A is required")
	assert.Contains(t, violations[1], "at least 5 characters")
	assert.Contains(t, violations[2], "invalid format")
}

func TestValidateCredentials_LengthBounds(t *testing.T) {
	svc := NewCatalogService(nil)
	def := &model.ServiceDefinition{
		Credentials: []model.CredentialField{
			{Key: "tok", Label: "Token", Required: true, Validation: &model.CredentialRule{MinLength: 3, MaxLength: 5}},
		},
	}

	assert.Empty(t, svc.ValidateCredentials(def, map[string]string{"tok": "abcd"}))
	assert.Len(t, svc.ValidateCredentials(def, map[string]string{"tok": "ab"}), 1)
	assert.Len(t, svc.ValidateCredentials(def, map[string]string{"tok": "abcdef"}), 1)
}

func TestValidateCredentials_PatternMatch(t *testing.T) {
	svc := NewCatalogService(nil)
	def := stripeDefinition()

	violations := svc.ValidateCredentials(def, map[string]string{
		"api_key": "not-a-stripe-key",
	})
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "invalid format")
}

// ---------- Disable ----------

func TestCatalogService_Disable_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewCatalogService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(tagAffecting(1), nil)

	require.NoError(t, svc.Disable(ctx, "stripe"))
	db.AssertExpectations(t)
}

func TestCatalogService_Disable_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewCatalogService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(tagAffecting(0), nil)

	err := svc.Disable(ctx, "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}
