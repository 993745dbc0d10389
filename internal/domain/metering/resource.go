package metering

import "github.com/bookwell/backend/internal/domain/shared"

// ResourceType identifies a metered, per-unit billable resource.
type ResourceType string

const (
	// ResourceEmail is outbound email delivery
	ResourceEmail ResourceType = "email"

	// ResourceSMS is outbound SMS delivery
	ResourceSMS ResourceType = "sms"
)

// AllResourceTypes returns every metered resource type
func AllResourceTypes() []ResourceType {
	return []ResourceType{ResourceEmail, ResourceSMS}
}

// String returns the string representation of the resource type
func (r ResourceType) String() string {
	return string(r)
}

// IsValid returns true if the resource type is known
func (r ResourceType) IsValid() bool {
	switch r {
	case ResourceEmail, ResourceSMS:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the resource type
func (r ResourceType) DisplayName() string {
	switch r {
	case ResourceEmail:
		return "Email"
	case ResourceSMS:
		return "SMS"
	default:
		return string(r)
	}
}

// ParseResourceType parses a string into a ResourceType
func ParseResourceType(s string) (ResourceType, error) {
	r := ResourceType(s)
	if !r.IsValid() {
		return "", shared.NewDomainError("INVALID_RESOURCE_TYPE", "Unknown metered resource type: "+s)
	}
	return r, nil
}
