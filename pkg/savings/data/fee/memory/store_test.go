package memory

import (
	"testing"

	"github.com/stashfi/savings-server/pkg/savings/data/fee/tests"
)

func TestFeeMemoryStore(t *testing.T) {
	testStore := New()
	teardown := func() {
		testStore.(*store).reset()
	}
	tests.RunTests(t, testStore, teardown)
}
