package data

import (
	"testing"
)

func TestMemoryLedgerStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) LedgerStore {
		return NewMemoryLedgerStore()
	})
}
