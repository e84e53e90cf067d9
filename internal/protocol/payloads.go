package protocol

// LatLng is a driver position attached to a status update.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// StatusUpdate is the payload of a booking_update envelope. Driver fields are
// present once a driver has been assigned; Location while the ride is active.
type StatusUpdate struct {
	BookingID   int64   `json:"bookingId"`
	Status      string  `json:"status"`
	DriverID    string  `json:"driverId,omitempty"`
	DriverName  string  `json:"driverName,omitempty"`
	DriverPhone string  `json:"driverPhone,omitempty"`
	ETAMinutes  int     `json:"etaMinutes,omitempty"`
	Location    *LatLng `json:"location,omitempty"`
}

// ChatMessage is the payload of a chat_message envelope. MessageID is
// client-generated and unique, so receivers can deduplicate.
type ChatMessage struct {
	BookingID  int64  `json:"bookingId"`
	From       string `json:"fromIdentity"`
	To         string `json:"toIdentity,omitempty"`
	Message    string `json:"message"`
	MessageID  string `json:"messageId"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// Severity classifies a notification for UI rendering.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is the payload of a notification envelope.
type Notification struct {
	ID        string   `json:"id"`
	Severity  Severity `json:"severity"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	ActionURL string   `json:"actionUrl,omitempty"`
}

// SubscribeBooking is the payload of a subscribe_booking envelope.
type SubscribeBooking struct {
	BookingID int64 `json:"bookingId"`
}

// ErrorPayload is the payload of an error envelope. Codes used by the hub:
const (
	ErrCodeInvalidFormat = "INVALID_FORMAT"
	ErrCodeAccessDenied  = "ACCESS_DENIED"
	ErrCodeRateLimited   = "RATE_LIMIT_EXCEEDED"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
