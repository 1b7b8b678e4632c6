package provider

// Providers are the replaceable collaborators of the CLI. Distributions
// can swap these to change where errors go, how cluster records persist
// and where kubectl artifacts are fetched from.
type Providers interface {
	ErrorLogger() ErrorLogger
	StoreProvider() StoreProvider
	ArtifactProvider() ArtifactProvider
}
