package toolhost

import (
	"github.com/wagiedev/toolhost-go/internal/manager"
)

// managerWrapper adapts the internal manager to the public interface.
type managerWrapper struct {
	*manager.Manager
}

// Compile-time check that *managerWrapper implements the Manager interface.
var _ Manager = (*managerWrapper)(nil)

// newManagerImpl creates the internal manager implementation.
func newManagerImpl(options *Options) Manager {
	return &managerWrapper{Manager: manager.New(options)}
}
