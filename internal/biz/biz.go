package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewLedgerConfig,
	NewSystemClock,
	NewBalanceResolver,
	NewSpendAuthorizer,
	NewUsageRecorder,
	NewPaymentApplier,
	NewOrderUseCase,
	NewResetSweepUseCase,
	NewLedgerUseCase, // 组合 UseCase
)
