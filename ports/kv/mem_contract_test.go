package kv_test

import (
	"testing"

	"github.com/tstuttard/eventsourcing/ports/kv"
	"github.com/tstuttard/eventsourcing/ports/kv/kvtests"
)

func TestMemStore_contract(t *testing.T) {
	kvtests.RunStoreContract(t, func(*testing.T) kv.Store { return kv.NewMemStore() })
}
