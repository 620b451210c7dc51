package domain

// SessionPhase is the credential gate state of a chat session.
type SessionPhase int

const (
	// PhaseAwaitingCredential is the initial phase; no requests can be sent.
	PhaseAwaitingCredential SessionPhase = iota
	// PhaseReady means a credential is stored and messages can be submitted.
	PhaseReady
)

func (p SessionPhase) String() string {
	switch p {
	case PhaseReady:
		return "ready"
	default:
		return "awaiting_credential"
	}
}

// MarshalText encodes the phase by name.
func (p SessionPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// RequestState tracks whether the single outbound request slot is taken.
type RequestState int

const (
	// RequestIdle means a new submission may be accepted.
	RequestIdle RequestState = iota
	// RequestInFlight means one request is outstanding.
	RequestInFlight
)

func (s RequestState) String() string {
	if s == RequestInFlight {
		return "in_flight"
	}
	return "idle"
}

// MarshalText encodes the request state by name.
func (s RequestState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
