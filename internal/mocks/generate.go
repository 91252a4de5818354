package mocks

//go:generate mockery --name EventStore --srcpkg github.com/theburgerllc/nycayen-telemetry/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
