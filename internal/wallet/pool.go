package wallet

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
)

// DerivePool derives the first n pool keys from seed. The same seed always
// yields the same pool, in the same order.
func DerivePool(seed []byte, n int) (faucet.Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", n)
	}
	if n > faucet.MaxPoolSize {
		return nil, fmt.Errorf("%w: %d > %d", faucet.ErrTooManyAddresses, n, faucet.MaxPoolSize)
	}

	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	account, err := master.DerivePath(PurposeBIP44, CoinTypeKlingnet, PoolAccount, ChangeExternal)
	if err != nil {
		return nil, fmt.Errorf("derive pool account: %w", err)
	}

	addrs := make([]faucet.ManagedAddress, n)
	for i := range addrs {
		child, err := account.DerivePath(uint32(i))
		if err != nil {
			return nil, fmt.Errorf("derive pool key %d: %w", i, err)
		}
		signer, err := child.Signer()
		if err != nil {
			return nil, fmt.Errorf("pool key %d: %w", i, err)
		}
		addrs[i] = faucet.ManagedAddress{
			Index:   i,
			Address: child.Address(),
			Signer:  signer,
		}
	}
	return faucet.NewPool(addrs)
}
