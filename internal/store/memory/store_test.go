package memory_test

import (
	"testing"

	"github.com/djlord-it/deploytrigger/internal/store/memory"
	"github.com/djlord-it/deploytrigger/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return memory.New()
	})
}
