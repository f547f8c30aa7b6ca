package domain

// SessionState is the login lifecycle state.
type SessionState string

const (
	SessionOut      SessionState = "out"
	SessionLoading  SessionState = "loading"
	SessionIn       SessionState = "in"
	SessionUnfunded SessionState = "unfunded"
)

// Credential carries either a secret (signing) or a public key (view-only).
type Credential struct {
	Secret    string `json:"secret,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// SessionView is the read-only state exposed to presentation.
type SessionView struct {
	State             SessionState `json:"state"`
	AccountID         string       `json:"account_id,omitempty"`
	CanSign           bool         `json:"can_sign"`
	InvalidCredential bool         `json:"invalid_credential"`
	SetupError        bool         `json:"setup_error"`
	InflationDone     bool         `json:"inflation_done"`
	Pair              *AssetPair   `json:"pair,omitempty"`
}
