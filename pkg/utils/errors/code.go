package errors

// Service codes (AA)
const (
	// ServiceCommon is for common/base errors shared by all services.
	ServiceCommon = 0

	// ServiceAuthz is for the policy engine and its watchers.
	ServiceAuthz = 5

	// ServiceInfraDB is for database infrastructure.
	ServiceInfraDB = 10

	// ServiceInfraMQ is for pub/sub and key-value transports.
	ServiceInfraMQ = 12
)

// Category codes (BB)
const (
	CategoryRequest  = 1
	CategoryResource = 4
	CategoryInternal = 7
	CategoryDatabase = 8
	CategoryNetwork  = 10
	CategoryConfig   = 12
)

// MakeCode creates an error code from service, category, and sequence.
// Format: AABBCCC where AA=service, BB=category, CCC=sequence
func MakeCode(service, category, sequence int) int {
	return service*100000 + category*1000 + sequence
}

// ParseCode parses an error code into service, category, and sequence.
func ParseCode(code int) (service, category, sequence int) {
	service = code / 100000
	category = (code % 100000) / 1000
	sequence = code % 1000
	return
}
