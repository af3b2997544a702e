package call

// Status is the state of a call session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusAuthorizing  Status = "authorizing"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusEnded        Status = "ended"
	StatusError        Status = "error"
)

// Role is the local participant's side of the appointment.
type Role string

const (
	RoleNone    Role = ""
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Snapshot is the view-facing state of a session. Err is non-nil only in
// StatusError. RecoveryOffered becomes true once the recovery delay has
// elapsed on a retryable error.
type Snapshot struct {
	AppointmentID   string
	ParticipantID   string
	Status          Status
	Err             *Error
	RecoveryOffered bool
	Initiator       bool
	Role            Role
	LocalMedia      Stream
	RemoteMedia     RemoteStream
	AudioEnabled    bool
	VideoEnabled    bool
	Closed          bool
}

// Live reports whether the session still holds call resources.
func (s Snapshot) Live() bool {
	return s.Status == StatusConnecting || s.Status == StatusConnected
}
