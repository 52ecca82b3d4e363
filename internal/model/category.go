package model

// Category is the coarse error classification assigned by the normalizer.
type Category string

const (
	CategoryConnection    Category = "CONNECTION_ERROR"
	CategoryTimeout       Category = "TIMEOUT_ERROR"
	CategoryAuth          Category = "AUTH_ERROR"
	CategoryDatabase      Category = "DATABASE_ERROR"
	CategoryNetwork       Category = "NETWORK_ERROR"
	CategoryFilesystem    Category = "FILESYSTEM_ERROR"
	CategoryMemory        Category = "MEMORY_ERROR"
	CategoryNullReference Category = "NULL_REFERENCE"
	CategoryValidation    Category = "VALIDATION_ERROR"
	CategoryRateLimit     Category = "RATE_LIMIT_ERROR"
	CategoryUnknown       Category = "UNKNOWN"
)
