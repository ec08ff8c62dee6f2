package biz_test

import (
	"context"
	"testing"

	"credit-ledger/internal/biz"
	"credit-ledger/internal/conf"
	"credit-ledger/internal/constants"
	ledgerErrors "credit-ledger/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDegrade_DenyReportsUnavailable(t *testing.T) {
	uc := newUseCase(unavailableRepo{}, unavailableRepo{}, unavailableRepo{}, nil, testConfig(), testNow)
	ctx := context.Background()

	_, err := uc.ResolveBalance(ctx, "u1", 5)
	assert.ErrorIs(t, err, ledgerErrors.ErrLedgerUnavailable)

	_, err = uc.SpendOneCredit(ctx, "u1")
	assert.ErrorIs(t, err, ledgerErrors.ErrLedgerUnavailable)
}

func TestDegrade_AllowUnlimited(t *testing.T) {
	c := testConfig()
	c.DegradeMode = constants.DegradeModeAllowUnlimited
	c.UnlimitedCredits = 9999
	uc := newUseCase(unavailableRepo{}, unavailableRepo{}, unavailableRepo{}, nil, c, testNow)
	ctx := context.Background()

	balance, err := uc.ResolveBalance(ctx, "u1", 5)
	require.NoError(t, err)
	assert.True(t, balance.Degraded)
	assert.Equal(t, int64(9999), balance.TotalCredits)

	result, err := uc.SpendOneCredit(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, result.Spent)
	assert.True(t, result.Degraded)
	assert.Equal(t, constants.SpendSourceUnmetered, result.Source)
	assert.False(t, result.Watermark())
}

func TestDegrade_PaymentsNeverFailOpen(t *testing.T) {
	c := testConfig()
	c.DegradeMode = constants.DegradeModeAllowUnlimited
	uc := newUseCase(unavailableRepo{}, unavailableRepo{}, unavailableRepo{}, nil, c, testNow)

	_, err := uc.CreditPayment(context.Background(), "u1", 5, "pay-1")
	assert.ErrorIs(t, err, ledgerErrors.ErrLedgerUnavailable)
}

func TestNewLedgerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := biz.NewLedgerConfig(&conf.Bootstrap{})
		assert.Equal(t, int64(constants.DefaultWeeklyQuota), c.WeeklyQuota)
		assert.Equal(t, constants.DegradeModeDeny, c.DegradeMode)
		assert.False(t, c.FailOpen())
		assert.Equal(t, constants.DefaultCurrency, c.Currency)
		assert.False(t, c.CallerQuotas)
	})

	t.Run("unknown degrade mode denies", func(t *testing.T) {
		c := biz.NewLedgerConfig(&conf.Bootstrap{Ledger: &conf.Ledger{DegradeMode: "open"}})
		assert.Equal(t, constants.DegradeModeDeny, c.DegradeMode)
	})

	t.Run("packs", func(t *testing.T) {
		c := biz.NewLedgerConfig(&conf.Bootstrap{
			Ledger: &conf.Ledger{WeeklyQuota: 10, DegradeMode: constants.DegradeModeAllowUnlimited, CallerQuotas: true},
			Paypal: &conf.Paypal{
				Currency: "EUR",
				Packs: []*conf.Paypal_Pack{
					{Id: "starter", Price: "2.99", Credits: 10},
					{Id: "broken", Price: "1.00", Credits: 0},
				},
			},
		})
		assert.Equal(t, int64(10), c.WeeklyQuota)
		assert.True(t, c.FailOpen())
		assert.True(t, c.CallerQuotas)
		assert.Equal(t, "EUR", c.Currency)
		require.Len(t, c.Packs, 1)

		pack, ok := c.Pack("starter")
		require.True(t, ok)
		assert.Equal(t, int64(10), pack.Credits)
		_, ok = c.Pack("broken")
		assert.False(t, ok)
	})
}
