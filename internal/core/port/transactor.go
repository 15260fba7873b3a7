package port

import "context"

// TxRepositories exposes repositories bound to a single transaction.
type TxRepositories struct {
	Accounts AccountRepository
	Sessions SessionRepository
	Tokens   TokenRepository
}

// Transactor runs fn inside one database transaction, committing when fn returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error
}
