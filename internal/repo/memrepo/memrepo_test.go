package memrepo_test

import (
	"testing"

	"caseline/internal/repo"
	"caseline/internal/repo/memrepo"
	"caseline/internal/repo/repotest"
)

func TestMemoryStore(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.Store { return memrepo.New() })
}
