package authz

type (
	Outcome int
	Reason  int

	// Facts are the already evaluated credential checks for one request.
	Facts struct {
		AdminValid         bool
		ViewTokenPresented bool
		ViewTokenValid     bool
		PasswordPresented  bool
		PasswordValid      bool
	}

	Decision struct {
		Outcome Outcome
		// Reason is only meaningful when Outcome is OutcomeDenied and is
		// never sent to clients.
		Reason Reason
	}
)

const (
	OutcomeDenied Outcome = iota
	OutcomeAdmin
	OutcomeViewToken
	OutcomePassword
)

const (
	ReasonNone Reason = iota
	ReasonNoCredential
	ReasonInvalidCredential
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdmin:
		return "admin"
	case OutcomeViewToken:
		return "view_token"
	case OutcomePassword:
		return "password"
	}
	return "denied"
}

func (r Reason) String() string {
	switch r {
	case ReasonNoCredential:
		return "no_credential"
	case ReasonInvalidCredential:
		return "invalid_credential"
	}
	return "none"
}

func (d Decision) Allowed() bool {
	return d.Outcome != OutcomeDenied
}

// Policy applies the precedence admin > view token > password. The first
// valid credential wins.
func Policy(f Facts) Decision {
	switch {
	case f.AdminValid:
		return Decision{Outcome: OutcomeAdmin}
	case f.ViewTokenValid:
		return Decision{Outcome: OutcomeViewToken}
	case f.PasswordValid:
		return Decision{Outcome: OutcomePassword}
	case f.ViewTokenPresented || f.PasswordPresented:
		return Decision{Outcome: OutcomeDenied, Reason: ReasonInvalidCredential}
	}
	return Decision{Outcome: OutcomeDenied, Reason: ReasonNoCredential}
}
