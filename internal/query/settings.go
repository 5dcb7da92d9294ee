package query

// Mode discriminates how a query entered the system.
type Mode string

// Query modes.
const (
	ModeInteractive  Mode = "interactive"
	ModeSubscription Mode = "subscription"
)

// Settings carries request-scoped flags that travel with a query through the
// processor pipeline and down to the physical executor.
type Settings struct {
	// Mode is interactive for API traffic, subscription for scheduled
	// re-executions.
	Mode Mode

	// Referrer attributes the query to its caller.
	Referrer string

	// Consistent requests strongly consistent reads from the store.
	Consistent bool

	// DryRun formats the query without executing it.
	DryRun bool
}

// NewSubscriptionSettings returns the settings used for scheduled
// subscription executions.
func NewSubscriptionSettings(referrer string) *Settings {
	return &Settings{
		Mode:       ModeSubscription,
		Referrer:   referrer,
		Consistent: true,
	}
}

// NewInteractiveSettings returns the settings used for API traffic.
func NewInteractiveSettings(referrer string) *Settings {
	return &Settings{Mode: ModeInteractive, Referrer: referrer}
}
