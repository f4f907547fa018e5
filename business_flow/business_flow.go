// Package businessflow contains the business logic for the application.
package businessflow

// ClientMetadata holds client-related information captured at the HTTP
// edge, carried through flows for logging
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

const (
	// DefaultPageSize applies when a list request leaves page_size unset
	DefaultPageSize = 50
	// MaxPageSize is the clamp for admin list endpoints
	MaxPageSize = 200
	// campaignDeliveryListCap bounds the inline delivery list on the
	// single-campaign view; larger campaigns set deliveries_truncated
	campaignDeliveryListCap = 2000
)

// normalizePage clamps pagination inputs to sane bounds
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
