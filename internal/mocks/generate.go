// Package mocks provides gomock implementations of the repository ports in internal/core.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockJobStore(ctrl)
//	store.EXPECT().GetByID(gomock.Any(), id).Return(job, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_store_mock.go github.com/orderguard/orderguard/internal/core JobStore
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_sweeper_repository_mock.go github.com/orderguard/orderguard/internal/core JobSweeperRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=customer_repository_mock.go github.com/orderguard/orderguard/internal/core CustomerRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=rule_repository_mock.go github.com/orderguard/orderguard/internal/core RuleRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=progress_publisher_mock.go github.com/orderguard/orderguard/internal/core ProgressPublisher
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/orderguard/orderguard/internal/core CacheRepository
